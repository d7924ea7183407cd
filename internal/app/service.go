/**
 * @description
 * This file contains the core business logic for the finance service. The
 * `Service` struct orchestrates every domain operation: authentication, user
 * management, the transaction ledger with grant-utilization bookkeeping,
 * investor capital with its paired inflow, grants, headcount, and the chart of
 * accounts. Row-level visibility is resolved here, before anything reaches the
 * repository or the metrics engine.
 *
 * @dependencies
 * - context, errors, fmt, log, strings, time: Standard Go libraries.
 * - github.com/google/uuid, github.com/shopspring/decimal: Ids and money.
 * - golang.org/x/crypto/bcrypt: Credential hashing.
 * - internal/domain, internal/store, pkg/rabbitmq: Models, data access, events.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/wittybot-avi/aayatana-fin-mgr/internal/domain"
	"github.com/wittybot-avi/aayatana-fin-mgr/internal/store"
	"github.com/wittybot-avi/aayatana-fin-mgr/pkg/rabbitmq"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrAgentRateLimited = errors.New("agent rate limit exceeded")
)

// ValidationError reports which field of a request failed validation. It is
// resolved at the operation boundary, before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Service provides the core business logic for the finance tracker.
type Service struct {
	repo       store.Repository
	events     rabbitmq.Publisher
	exchange   string
	classifier IntentClassifier
	loc        *time.Location

	agentLimiter     AgentRateLimiter
	agentLimitPerMin int

	// now is swappable so windowed computations are testable.
	now func() time.Time
}

// NewService creates a new service instance. The location fixes the reporting
// time zone for fiscal-year and burn windows (normally Asia/Kolkata).
func NewService(repo store.Repository, events rabbitmq.Publisher, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:       repo,
		events:     events,
		exchange:   rabbitmq.FinanceEventsExchange,
		classifier: NewKeywordClassifier(),
		loc:        loc,
		now:        time.Now,
	}
}

// SetEventExchange overrides the exchange events publish to (EVENT_EXCHANGE).
func (s *Service) SetEventExchange(name string) {
	if strings.TrimSpace(name) != "" {
		s.exchange = name
	}
}

// SetIntentClassifier swaps the agent's classifier (e.g. the LLM-backed one).
func (s *Service) SetIntentClassifier(c IntentClassifier) {
	if c != nil {
		s.classifier = c
	}
}

// SetAgentRateLimiter enables per-user rate limiting on the agent endpoint.
func (s *Service) SetAgentRateLimiter(limiter AgentRateLimiter, perMinute int) {
	s.agentLimiter = limiter
	s.agentLimitPerMin = perMinute
}

// --- Auth & users ---

// Authenticate verifies credentials and returns the user with the credential
// stripped. Both unknown-username and bad-password resolve to the same error.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, store.ErrInvalidCredentials
	}
	return s.repo.Authenticate(ctx, username, password)
}

// FindUser loads a user by id (credential stripped).
func (s *Service) FindUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return s.repo.FindUserByID(ctx, id)
}

// ListUsers returns all users with credentials stripped.
func (s *Service) ListUsers(ctx context.Context, caller *domain.User) ([]domain.User, error) {
	if !caller.HasPermission(domain.PermManageUsers) {
		return nil, ErrPermissionDenied
	}
	return s.repo.ListUsers(ctx)
}

// CreateUser creates a user with a permission set derived from its role once,
// at creation time. The set is stored and authoritative afterwards.
func (s *Service) CreateUser(ctx context.Context, caller *domain.User, req domain.CreateUserRequest) (*domain.User, error) {
	if !caller.HasPermission(domain.PermManageUsers) {
		return nil, ErrPermissionDenied
	}
	if strings.TrimSpace(req.Username) == "" {
		return nil, invalid("username", "must not be empty")
	}
	if len(req.Password) < 6 {
		return nil, invalid("password", "must be at least 6 characters")
	}
	if strings.TrimSpace(req.Role) == "" {
		return nil, invalid("role", "must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash credential: %w", err)
	}
	user := &domain.User{
		ID:           uuid.New(),
		Username:     strings.TrimSpace(req.Username),
		PasswordHash: string(hash),
		Name:         req.Name,
		Role:         req.Role,
		Email:        req.Email,
		Phone:        req.Phone,
		IsFirstLogin: true,
		Permissions:  domain.PermissionsFor(req.Role, req.AccessLevel),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	created := *user
	created.PasswordHash = ""
	return &created, nil
}

// DeleteUser removes a user. The reserved root admin account is undeletable;
// the repository refuses and the refusal is surfaced to the caller.
func (s *Service) DeleteUser(ctx context.Context, caller *domain.User, id uuid.UUID) error {
	if !caller.HasPermission(domain.PermManageUsers) {
		return ErrPermissionDenied
	}
	return s.repo.DeleteUser(ctx, id)
}

// UpdateUserPermissions overrides a user's stored permission set (e.g. an Admin
// toggling a Founder between read-only and write access).
func (s *Service) UpdateUserPermissions(ctx context.Context, caller *domain.User, id uuid.UUID, permissions []string) error {
	if !caller.HasPermission(domain.PermManageUsers) {
		return ErrPermissionDenied
	}
	return s.repo.UpdateUserPermissions(ctx, id, permissions)
}

// UpdateProfile edits the caller's own contact details. Admins may edit anyone.
func (s *Service) UpdateProfile(ctx context.Context, caller *domain.User, id uuid.UUID, name, email, phone string) error {
	if id != caller.ID && !caller.HasPermission(domain.PermManageUsers) {
		return ErrPermissionDenied
	}
	return s.repo.UpdateUserProfile(ctx, id, name, email, phone)
}

// ChangePassword replaces the caller's credential and clears the first-login flag.
func (s *Service) ChangePassword(ctx context.Context, caller *domain.User, newPassword string) error {
	if len(newPassword) < 6 {
		return invalid("password", "must be at least 6 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash credential: %w", err)
	}
	return s.repo.UpdateUserPassword(ctx, caller.ID, string(hash))
}

// --- Chart of accounts ---

func (s *Service) ListCategories(ctx context.Context) ([]domain.ChartOfAccount, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) CreateCategory(ctx context.Context, cat *domain.ChartOfAccount) (*domain.ChartOfAccount, error) {
	if strings.TrimSpace(cat.Category) == "" {
		return nil, invalid("category", "must not be empty")
	}
	if err := s.repo.CreateCategory(ctx, cat); err != nil {
		return nil, err
	}
	return cat, nil
}

// --- Transactions ---

// ListTransactions returns the caller-visible transactions within the current
// fiscal year, newest first. Visibility is resolved before the window applies.
func (s *Service) ListTransactions(ctx context.Context, caller *domain.User, filter store.TransactionFilter) ([]domain.Transaction, error) {
	filter = s.restrictVisibility(caller, filter)
	from, to := fiscalYearWindow(s.now().In(s.loc))
	filter.DateFrom = from
	filter.DateTo = to
	return s.repo.ListTransactions(ctx, filter)
}

// CreateTransaction validates and records a financial event. When the event
// links a grant, the grant's utilized amount is incremented atomically with the
// insert; a dangling grant id is non-fatal but raised as a data-quality event.
func (s *Service) CreateTransaction(ctx context.Context, caller *domain.User, req domain.CreateTransactionRequest) (*domain.Transaction, error) {
	if !caller.HasPermission(domain.PermEditTransactions) {
		return nil, ErrPermissionDenied
	}
	if req.Type != domain.TransactionInflow && req.Type != domain.TransactionOutflow {
		return nil, invalid("type", "must be INFLOW or OUTFLOW")
	}
	if req.CategoryID == uuid.Nil {
		return nil, invalid("category_id", "must reference a chart of accounts entry")
	}
	if !req.Amount.IsPositive() {
		return nil, invalid("amount", "must be greater than zero")
	}
	date := strings.TrimSpace(req.Date)
	if date == "" {
		date = s.now().In(s.loc).Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, invalid("date", "must be YYYY-MM-DD")
	}
	mode := req.Mode
	if mode == "" {
		mode = domain.ModeOther
	}

	tx := &domain.Transaction{
		ID:          uuid.New(),
		Date:        date,
		Type:        req.Type,
		CategoryID:  req.CategoryID,
		Vendor:      req.Vendor,
		Description: req.Description,
		Amount:      req.Amount,
		Mode:        mode,
		ProjectTag:  req.ProjectTag,
		GrantID:     req.GrantID,
		UserID:      caller.ID,
	}
	grantMissing, err := s.repo.CreateTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	if grantMissing {
		log.Printf("level=warn component=service msg=\"transaction links unknown grant\" transaction_id=%s grant_id=%s", tx.ID, req.GrantID)
		s.publishEvent(ctx, rabbitmq.RoutingGrantLinkMissing, map[string]interface{}{
			"transaction_id": tx.ID,
			"grant_id":       req.GrantID,
			"amount":         tx.Amount,
		})
	}
	s.publishEvent(ctx, rabbitmq.RoutingTransactionCreated, map[string]interface{}{
		"transaction_id": tx.ID,
		"type":           tx.Type,
		"amount":         tx.Amount,
		"user_id":        tx.UserID,
	})
	return tx, nil
}

func (s *Service) DeleteTransaction(ctx context.Context, caller *domain.User, id uuid.UUID) error {
	if !caller.HasPermission(domain.PermEditTransactions) {
		return ErrPermissionDenied
	}
	return s.repo.DeleteTransaction(ctx, id)
}

func (s *Service) ListProjectTags(ctx context.Context) ([]string, error) {
	return s.repo.ListProjectTags(ctx)
}

// --- Grants ---

func (s *Service) ListGrants(ctx context.Context) ([]domain.Grant, error) {
	return s.repo.ListGrants(ctx)
}

func (s *Service) CreateGrant(ctx context.Context, caller *domain.User, req domain.CreateGrantRequest) (*domain.Grant, error) {
	if !caller.HasPermission(domain.PermManageGrants) {
		return nil, ErrPermissionDenied
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, invalid("name", "must not be empty")
	}
	if req.TotalSanctioned.IsNegative() || req.AmountReceived.IsNegative() {
		return nil, invalid("amount", "must not be negative")
	}
	if req.Deadline != "" {
		if _, err := time.Parse("2006-01-02", req.Deadline); err != nil {
			return nil, invalid("deadline", "must be YYYY-MM-DD")
		}
	}
	grant := &domain.Grant{
		ID:              uuid.New(),
		Name:            req.Name,
		TotalSanctioned: req.TotalSanctioned,
		AmountReceived:  req.AmountReceived,
		AmountUtilized:  decimal.Zero,
		Deadline:        req.Deadline,
		Notes:           req.Notes,
	}
	if err := s.repo.CreateGrant(ctx, grant); err != nil {
		return nil, err
	}
	return grant, nil
}

// UpdateGrantReceived records a newly arrived tranche total for a grant.
func (s *Service) UpdateGrantReceived(ctx context.Context, caller *domain.User, id uuid.UUID, received decimal.Decimal) error {
	if !caller.HasPermission(domain.PermManageGrants) {
		return ErrPermissionDenied
	}
	if received.IsNegative() {
		return invalid("amount_received", "must not be negative")
	}
	return s.repo.UpdateGrantReceived(ctx, id, received)
}

// --- Investor capital ---

func (s *Service) ListInvestors(ctx context.Context) ([]domain.InvestorCapital, error) {
	return s.repo.ListInvestors(ctx)
}

// CreateInvestor records investor capital and the single paired INFLOW
// transaction against the Capital category. Both records land atomically, so
// the pairing invariant holds even across a crash mid-operation.
func (s *Service) CreateInvestor(ctx context.Context, caller *domain.User, req domain.CreateInvestorRequest) (*domain.InvestorCapital, error) {
	if !caller.HasPermission(domain.PermManageCapital) {
		return nil, ErrPermissionDenied
	}
	if strings.TrimSpace(req.InvestorName) == "" {
		return nil, invalid("investor_name", "must not be empty")
	}
	if !req.Amount.IsPositive() {
		return nil, invalid("amount", "must be greater than zero")
	}
	if !validInstrument(req.Instrument) {
		return nil, invalid("instrument", "must be one of "+strings.Join(domain.InvestorInstruments, ", "))
	}
	date := strings.TrimSpace(req.DateReceived)
	if date == "" {
		date = s.now().In(s.loc).Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, invalid("date_received", "must be YYYY-MM-DD")
	}

	capitalID, err := s.capitalCategoryID(ctx)
	if err != nil {
		return nil, err
	}

	inv := &domain.InvestorCapital{
		ID:           uuid.New(),
		InvestorName: req.InvestorName,
		DateReceived: date,
		Amount:       req.Amount,
		Instrument:   req.Instrument,
		UsageNotes:   req.UsageNotes,
	}
	tx := &domain.Transaction{
		ID:          uuid.New(),
		Date:        date,
		Type:        domain.TransactionInflow,
		CategoryID:  capitalID,
		Description: fmt.Sprintf("Investment from %s (%s)", inv.InvestorName, inv.Instrument),
		Amount:      inv.Amount,
		Mode:        domain.ModeAccountTransfer,
		ProjectTag:  "Business",
		UserID:      caller.ID,
	}
	if err := s.repo.CreateInvestorWithInflow(ctx, inv, tx); err != nil {
		return nil, fmt.Errorf("record investor with paired inflow: %w", err)
	}
	return inv, nil
}

// DeleteInvestor removes an investor record. The paired inflow stays in the
// ledger as audit history.
func (s *Service) DeleteInvestor(ctx context.Context, caller *domain.User, id uuid.UUID) error {
	if !caller.HasPermission(domain.PermManageCapital) {
		return ErrPermissionDenied
	}
	return s.repo.DeleteInvestor(ctx, id)
}

// capitalCategoryID resolves the Capital category, falling back to the first
// category when the chart has been customized.
func (s *Service) capitalCategoryID(ctx context.Context) (uuid.UUID, error) {
	cats, err := s.repo.ListCategories(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	if len(cats) == 0 {
		return uuid.Nil, store.ErrCategoryNotFound
	}
	for _, c := range cats {
		if c.Category == "Capital" {
			return c.ID, nil
		}
	}
	return cats[0].ID, nil
}

func validInstrument(instrument string) bool {
	for _, i := range domain.InvestorInstruments {
		if i == instrument {
			return true
		}
	}
	return false
}

// --- Headcount ---

func (s *Service) ListHeadcount(ctx context.Context) ([]domain.Headcount, error) {
	return s.repo.ListHeadcount(ctx)
}

func (s *Service) CreateHeadcount(ctx context.Context, caller *domain.User, req domain.CreateHeadcountRequest) (*domain.Headcount, error) {
	if !caller.HasPermission(domain.PermManageHeadcount) {
		return nil, ErrPermissionDenied
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, invalid("name", "must not be empty")
	}
	if req.AllocationPercent < 0 || req.AllocationPercent > 100 {
		return nil, invalid("allocation_percent", "must be between 0 and 100")
	}
	if req.CTCMonthly.IsNegative() {
		return nil, invalid("ctc_monthly", "must not be negative")
	}
	hc := &domain.Headcount{
		ID:                uuid.New(),
		Name:              req.Name,
		Role:              req.Role,
		CTCMonthly:        req.CTCMonthly,
		StartDate:         req.StartDate,
		AllocationPercent: req.AllocationPercent,
		Notes:             req.Notes,
	}
	if err := s.repo.CreateHeadcount(ctx, hc); err != nil {
		return nil, err
	}
	return hc, nil
}

func (s *Service) UpdateHeadcount(ctx context.Context, caller *domain.User, hc *domain.Headcount) error {
	if !caller.HasPermission(domain.PermManageHeadcount) {
		return ErrPermissionDenied
	}
	if hc.AllocationPercent < 0 || hc.AllocationPercent > 100 {
		return invalid("allocation_percent", "must be between 0 and 100")
	}
	return s.repo.UpdateHeadcount(ctx, hc)
}

// publishEvent is fire-and-forget: event delivery must never fail a request.
func (s *Service) publishEvent(ctx context.Context, routingKey string, body interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, s.exchange, routingKey, body); err != nil {
		log.Printf("level=warn component=service msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}
