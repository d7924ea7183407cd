/**
 * @description
 * This file contains the HTTP handlers for the finance service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: Session token issuance on login.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wittybot-avi/aayatana-fin-mgr/internal/app"
	"github.com/wittybot-avi/aayatana-fin-mgr/internal/domain"
	"github.com/wittybot-avi/aayatana-fin-mgr/internal/store"
)

// FinanceHandlers holds the application service that handlers will use.
type FinanceHandlers struct {
	service   *app.Service
	jwtSecret string
	tokenTTL  time.Duration
}

// NewFinanceHandlers creates a new instance of FinanceHandlers.
func NewFinanceHandlers(service *app.Service, jwtSecret string, tokenTTL time.Duration) *FinanceHandlers {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &FinanceHandlers{service: service, jwtSecret: jwtSecret, tokenTTL: tokenTTL}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

// LoginHandler verifies credentials and issues an HS256 session token.
func (h *FinanceHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrInvalidCredentials) {
			// Unknown username and bad password are indistinguishable.
			h.writeError(w, http.StatusUnauthorized, "Invalid username or password")
			return
		}
		log.Printf("level=error component=api endpoint=login msg=\"authentication failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to sign in")
		return
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": user.ID.String(),
		"iat": now.Unix(),
		"exp": now.Add(h.tokenTTL).Unix(),
	})
	signed, err := token.SignedString([]byte(h.jwtSecret))
	if err != nil {
		log.Printf("level=error component=api endpoint=login msg=\"token signing failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to sign in")
		return
	}

	log.Printf("level=info component=api endpoint=login outcome=accepted user_id=%s", user.ID)
	h.writeJSON(w, http.StatusOK, loginResponse{Token: signed, User: user})
}

// ForgotPasswordHandler acknowledges a reset request without revealing whether
// the username exists. There is no mail flow behind it; an admin resets the
// credential through the user-management surface.
func (h *FinanceHandlers) ForgotPasswordHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"message": "If the account exists, an administrator has been notified to reset the password.",
	})
}

// currentUser resolves the authenticated caller from the request context. It
// writes the error response itself and returns nil when resolution fails.
func (h *FinanceHandlers) currentUser(w http.ResponseWriter, r *http.Request) *domain.User {
	idStr, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return nil
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "Invalid user ID format")
		return nil
	}
	user, err := h.service.FindUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			h.writeError(w, http.StatusUnauthorized, "User not found")
			return nil
		}
		log.Printf("level=error component=api msg=\"caller resolution failed\" user_id=%s err=%v", id, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to resolve user")
		return nil
	}
	return user
}

// MeHandler returns the authenticated caller's own record.
func (h *FinanceHandlers) MeHandler(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	h.writeJSON(w, http.StatusOK, user)
}

type changePasswordRequest struct {
	NewPassword string `json:"new_password"`
}

// ChangePasswordHandler replaces the caller's credential.
func (h *FinanceHandlers) ChangePasswordHandler(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.service.ChangePassword(r.Context(), user, req.NewPassword); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "password changed"})
}

// --- Users ---

func (h *FinanceHandlers) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	users, err := h.service.ListUsers(r.Context(), user)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, users)
}

func (h *FinanceHandlers) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	var req domain.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	created, err := h.service.CreateUser(r.Context(), user, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

func (h *FinanceHandlers) DeleteUserHandler(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	if err := h.service.DeleteUser(r.Context(), user, id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type updatePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func (h *FinanceHandlers) UpdateUserPermissionsHandler(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	var req updatePermissionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.service.UpdateUserPermissions(r.Context(), user, id, req.Permissions); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "permissions updated"})
}

type updateProfileRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func (h *FinanceHandlers) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.service.UpdateProfile(r.Context(), user, id, req.Name, req.Email, req.Phone); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "profile updated"})
}

// --- Chart of accounts ---

func (h *FinanceHandlers) ListCategoriesHandler(w http.ResponseWriter, r *http.Request) {
	if h.currentUser(w, r) == nil {
		return
	}
	cats, err := h.service.ListCategories(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cats)
}

func (h *FinanceHandlers) CreateCategoryHandler(w http.ResponseWriter, r *http.Request) {
	if h.currentUser(w, r) == nil {
		return
	}
	var cat domain.ChartOfAccount
	if err := json.NewDecoder(r.Body).Decode(&cat); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if cat.ID == uuid.Nil {
		cat.ID = uuid.New()
	}
	created, err := h.service.CreateCategory(r.Context(), &cat)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

// --- Transactions ---

func (h *FinanceHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}

	filter := store.TransactionFilter{
		Type:       r.URL.Query().Get("type"),
		ProjectTag: queryParam(r, "projectTag", "project_tag"),
	}
	if raw := queryParam(r, "categoryId", "category_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid categoryId filter")
			return
		}
		filter.CategoryID = &id
	}
	// Row-level security overrides this for callers without view_financials.
	if raw := queryParam(r, "userId", "user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid userId filter")
			return
		}
		filter.UserID = &id
	}

	txs, err := h.service.ListTransactions(r.Context(), user, filter)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, txs)
}

func (h *FinanceHandlers) CreateTransactionHandler(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	var req domain.CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	tx, err := h.service.CreateTransaction(r.Context(), user, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, tx)
}

func (h *FinanceHandlers) DeleteTransactionHandler(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transaction ID")
		return
	}
	if err := h.service.DeleteTransaction(r.Context(), user, id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *FinanceHandlers) ListProjectTagsHandler(w http.ResponseWriter, r *http.Request) {
	if h.currentUser(w, r) == nil {
		return
	}
	tags, err := h.service.ListProjectTags(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tags)
}

// --- Grants ---

func (h *FinanceHandlers) ListGrantsHandler(w http.ResponseWriter, r *http.Request) {
	if h.currentUser(w, r) == nil {
		return
	}
	grants, err := h.service.ListGrants(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, grants)
}

func (h *FinanceHandlers) CreateGrantHandler(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	var req domain.CreateGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	grant, err := h.service.CreateGrant(r.Context(), user, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, grant)
}

type updateGrantReceivedRequest struct {
	AmountReceived decimal.Decimal `json:"amount_received"`
}

func (h *FinanceHandlers) UpdateGrantReceivedHandler(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid grant ID")
		return
	}
	var req updateGrantReceivedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.service.UpdateGrantReceived(r.Context(), user, id, req.AmountReceived); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// --- Investor capital ---

func (h *FinanceHandlers) ListInvestorsHandler(w http.ResponseWriter, r *http.Request) {
	if h.currentUser(w, r) == nil {
		return
	}
	investors, err := h.service.ListInvestors(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, investors)
}

func (h *FinanceHandlers) CreateInvestorHandler(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	var req domain.CreateInvestorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	inv, err := h.service.CreateInvestor(r.Context(), user, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, inv)
}

func (h *FinanceHandlers) DeleteInvestorHandler(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid investor ID")
		return
	}
	if err := h.service.DeleteInvestor(r.Context(), user, id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- Headcount ---

func (h *FinanceHandlers) ListHeadcountHandler(w http.ResponseWriter, r *http.Request) {
	if h.currentUser(w, r) == nil {
		return
	}
	people, err := h.service.ListHeadcount(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, people)
}

func (h *FinanceHandlers) CreateHeadcountHandler(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	var req domain.CreateHeadcountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	hc, err := h.service.CreateHeadcount(r.Context(), user, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, hc)
}

func (h *FinanceHandlers) UpdateHeadcountHandler(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid headcount ID")
		return
	}
	var hc domain.Headcount
	if err := json.NewDecoder(r.Body).Decode(&hc); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	hc.ID = id
	if err := h.service.UpdateHeadcount(r.Context(), user, &hc); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, hc)
}

// --- Metrics ---

func (h *FinanceHandlers) DashboardMetricsHandler(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	metrics, err := h.service.DashboardMetrics(r.Context(), user)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, metrics)
}

func (h *FinanceHandlers) CategoryBreakdownHandler(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	breakdown, err := h.service.CategoryBreakdown(r.Context(), user)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, breakdown)
}

// --- Agent ---

type agentChatRequest struct {
	Message string          `json:"message"`
	History []app.AgentTurn `json:"history,omitempty"`
	UserID  string          `json:"userId,omitempty"`
}

// AgentChatHandler forwards a conversational message to the agent bridge. When
// the body names a user it must match the token subject.
func (h *FinanceHandlers) AgentChatHandler(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	var req agentChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID != "" && req.UserID != user.ID.String() {
		h.writeError(w, http.StatusForbidden, "User ID does not match the session")
		return
	}

	reply, err := h.service.AgentMessage(r.Context(), user, req.Message, req.History)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, reply)
}

// --- Response helpers ---

// writeServiceError maps service-layer errors onto HTTP status codes.
func (h *FinanceHandlers) writeServiceError(w http.ResponseWriter, err error) {
	var vErr *app.ValidationError
	switch {
	case errors.As(err, &vErr):
		h.writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, app.ErrPermissionDenied):
		h.writeError(w, http.StatusForbidden, "Permission denied")
	case errors.Is(err, app.ErrAgentRateLimited):
		h.writeError(w, http.StatusTooManyRequests, "Too many agent requests. Please wait a moment.")
	case errors.Is(err, store.ErrRootAdminImmutable):
		h.writeError(w, http.StatusForbidden, "The root admin account cannot be deleted")
	case errors.Is(err, store.ErrUsernameTaken):
		h.writeError(w, http.StatusConflict, "Username is already taken")
	case errors.Is(err, store.ErrInvalidCredentials):
		h.writeError(w, http.StatusUnauthorized, "Invalid username or password")
	case errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, store.ErrGrantNotFound),
		errors.Is(err, store.ErrCategoryNotFound),
		errors.Is(err, store.ErrTransactionNotFound),
		errors.Is(err, store.ErrInvestorNotFound),
		errors.Is(err, store.ErrHeadcountNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		log.Printf("level=error component=api msg=\"request failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *FinanceHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *FinanceHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// queryParam reads the first non-empty value among aliases of a query
// parameter (camelCase primary, snake_case alias).
func queryParam(r *http.Request, names ...string) string {
	for _, name := range names {
		if v := r.URL.Query().Get(name); v != "" {
			return v
		}
	}
	return ""
}
