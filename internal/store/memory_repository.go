/**
 * @description
 * In-memory implementation of the `Repository` interface. A single mutex guards
 * all state, which gives the single-writer-per-request model directly: a
 * transaction insert and its grant-utilization increment happen under one lock
 * acquisition, so no reader ever observes one without the other.
 *
 * Used by the test suite and by demo mode (when DATABASE_URL is unset), in which
 * case it is seeded with the starter users, chart of accounts, transactions and
 * project tags.
 *
 * @dependencies
 * - github.com/google/uuid, github.com/shopspring/decimal: Entity ids and money.
 * - golang.org/x/crypto/bcrypt: Credential hashing for seed users.
 * - internal/domain: Domain models.
 */

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/wittybot-avi/aayatana-fin-mgr/internal/domain"
)

// MemoryRepository is a mutex-guarded in-memory Repository.
type MemoryRepository struct {
	mu sync.Mutex

	rootAdminUsername string

	users        []domain.User
	categories   []domain.ChartOfAccount
	transactions []domain.Transaction
	grants       []domain.Grant
	investors    []domain.InvestorCapital
	headcount    []domain.Headcount
	projectTags  []string
}

// NewMemoryRepository creates an empty in-memory repository. The root admin
// username identifies the account DeleteUser must refuse to remove.
func NewMemoryRepository(rootAdminUsername string) *MemoryRepository {
	return &MemoryRepository{rootAdminUsername: rootAdminUsername}
}

// NewSeededMemoryRepository creates an in-memory repository pre-loaded with the
// demo data set: the root admin, three founders, the standard chart of
// accounts, a few starter transactions and the known project tags.
func NewSeededMemoryRepository(rootAdminUsername string) (*MemoryRepository, error) {
	r := NewMemoryRepository(rootAdminUsername)
	if err := r.seed(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *MemoryRepository) seed() error {
	type seedUser struct {
		username, password, name, role string
		perms                          []string
	}
	seedUsers := []seedUser{
		{r.rootAdminUsername, "Admin@123", "System Admin", domain.RoleAdmin, domain.PermissionsFor(domain.RoleAdmin, "")},
		{"Avinash", "Avinash@123", "Avinash Gowda", domain.RoleFounder, domain.PermissionsFor(domain.RoleFounder, domain.AccessReadWrite)},
		{"Vinutha", "Vinutha@123", "Vinutha J", domain.RoleFounder, domain.PermissionsFor(domain.RoleFounder, domain.AccessReadOnly)},
		{"Shrikanth", "Shrikanth@123", "Shrikanth Rao", domain.RoleFounder, domain.PermissionsFor(domain.RoleFounder, domain.AccessReadOnly)},
	}
	for _, su := range seedUsers {
		hash, err := bcrypt.GenerateFromPassword([]byte(su.password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash seed credential for %s: %w", su.username, err)
		}
		r.users = append(r.users, domain.User{
			ID:           uuid.New(),
			Username:     su.username,
			PasswordHash: string(hash),
			Name:         su.name,
			Role:         su.role,
			Permissions:  su.perms,
		})
	}

	seedCategories := []struct{ category, subcategory string }{
		{"R&D", "Electronics"},
		{"R&D", "Software"},
		{"IP", "Patents"},
		{"Salaries", "Founders"},
		{"Salaries", "Engineers"},
		{"Infra", "Cloud/SaaS"},
		{"Travel", "Business"},
		{"Legal", "Compliance"},
		{"Revenue", "Consulting"},
		{"Revenue", "Product"},
		{"Capital", "Investment"},
	}
	for _, sc := range seedCategories {
		r.categories = append(r.categories, domain.ChartOfAccount{
			ID:          uuid.New(),
			Category:    sc.category,
			Subcategory: sc.subcategory,
		})
	}

	r.projectTags = []string{"Business", "VoltEdge", "EcoTrace360", "VoltVault", "EcoMetrics", "EcoMetricsESG"}

	adminID := r.users[0].ID
	curYear := time.Now().Year()
	seedTxs := []struct {
		date, txType, category, mode, description, tag string
		amount                                         int64
	}{
		{fmt.Sprintf("%d-04-05", curYear), domain.TransactionInflow, "Capital", domain.ModeAccountTransfer, "Seed Funding Tranche 1", "Business", 5000000},
		{fmt.Sprintf("%d-04-15", curYear), domain.TransactionOutflow, "Infra", domain.ModeCreditCard, "AWS Credits", "VoltEdge", 25000},
		{fmt.Sprintf("%d-05-10", curYear), domain.TransactionOutflow, "R&D", domain.ModeAccountTransfer, "PCB Prototyping", "VoltEdge", 150000},
		{fmt.Sprintf("%d-06-01", curYear), domain.TransactionOutflow, "Salaries", domain.ModeAccountTransfer, "Engineering Salaries", "Business", 450000},
	}
	for _, st := range seedTxs {
		catID := uuid.Nil
		for _, c := range r.categories {
			if c.Category == st.category {
				catID = c.ID
				break
			}
		}
		r.transactions = append(r.transactions, domain.Transaction{
			ID:          uuid.New(),
			Date:        st.date,
			Type:        st.txType,
			CategoryID:  catID,
			Description: st.description,
			Amount:      decimal.NewFromInt(st.amount),
			Mode:        st.mode,
			ProjectTag:  st.tag,
			UserID:      adminID,
			CreatedAt:   time.Now().UTC(),
		})
	}
	return nil
}

// Authenticate matches the username case-insensitively and compares the
// credential against the stored bcrypt hash.
func (r *MemoryRepository) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.users {
		if strings.EqualFold(r.users[i].Username, strings.TrimSpace(username)) {
			if bcrypt.CompareHashAndPassword([]byte(r.users[i].PasswordHash), []byte(password)) != nil {
				return nil, ErrInvalidCredentials
			}
			return sanitizeUser(r.users[i]), nil
		}
	}
	return nil, ErrInvalidCredentials
}

func sanitizeUser(u domain.User) *domain.User {
	u.PasswordHash = ""
	u.Permissions = append([]string(nil), u.Permissions...)
	return &u
}

func (r *MemoryRepository) CreateUser(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.users {
		if strings.EqualFold(r.users[i].Username, user.Username) {
			return ErrUsernameTaken
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	r.users = append(r.users, *user)
	return nil
}

func (r *MemoryRepository) ListUsers(ctx context.Context) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.User, 0, len(r.users))
	for i := range r.users {
		out = append(out, *sanitizeUser(r.users[i]))
	}
	return out, nil
}

func (r *MemoryRepository) FindUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.users {
		if r.users[i].ID == id {
			return sanitizeUser(r.users[i]), nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *MemoryRepository) UpdateUserProfile(ctx context.Context, id uuid.UUID, name, email, phone string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.users {
		if r.users[i].ID == id {
			if name != "" {
				r.users[i].Name = name
			}
			r.users[i].Email = email
			r.users[i].Phone = phone
			return nil
		}
	}
	return ErrUserNotFound
}

func (r *MemoryRepository) UpdateUserPermissions(ctx context.Context, id uuid.UUID, permissions []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.users {
		if r.users[i].ID == id {
			r.users[i].Permissions = append([]string(nil), permissions...)
			return nil
		}
	}
	return ErrUserNotFound
}

func (r *MemoryRepository) UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.users {
		if r.users[i].ID == id {
			r.users[i].PasswordHash = passwordHash
			r.users[i].IsFirstLogin = false
			return nil
		}
	}
	return ErrUserNotFound
}

func (r *MemoryRepository) DeleteUser(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.users {
		if r.users[i].ID == id {
			if strings.EqualFold(r.users[i].Username, r.rootAdminUsername) {
				return ErrRootAdminImmutable
			}
			r.users = append(r.users[:i], r.users[i+1:]...)
			return nil
		}
	}
	return ErrUserNotFound
}

func (r *MemoryRepository) ListCategories(ctx context.Context) ([]domain.ChartOfAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ChartOfAccount(nil), r.categories...), nil
}

func (r *MemoryRepository) CreateCategory(ctx context.Context, cat *domain.ChartOfAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cat.ID == uuid.Nil {
		cat.ID = uuid.New()
	}
	r.categories = append(r.categories, *cat)
	return nil
}

// CreateTransaction inserts the transaction and, when it links a grant that
// resolves, adds its amount to the grant's utilized total under the same lock.
func (r *MemoryRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertTransactionLocked(tx), nil
}

// insertTransactionLocked performs the transaction insert, the grant
// utilization increment, and the project-tag registration. Callers must hold
// the store mutex. It reports whether a linked grant failed to resolve.
func (r *MemoryRepository) insertTransactionLocked(tx *domain.Transaction) bool {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	grantMissing := false
	if tx.GrantID != nil {
		grantMissing = true
		for i := range r.grants {
			if r.grants[i].ID == *tx.GrantID {
				r.grants[i].AmountUtilized = r.grants[i].AmountUtilized.Add(tx.Amount)
				grantMissing = false
				break
			}
		}
	}

	r.transactions = append(r.transactions, *tx)

	if tx.ProjectTag != "" {
		known := false
		for _, t := range r.projectTags {
			if t == tx.ProjectTag {
				known = true
				break
			}
		}
		if !known {
			r.projectTags = append(r.projectTags, tx.ProjectTag)
		}
	}
	return grantMissing
}

func (r *MemoryRepository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Transaction, 0, len(r.transactions))
	for _, tx := range r.transactions {
		if filter.UserID != nil && tx.UserID != *filter.UserID {
			continue
		}
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		if filter.ProjectTag != "" && tx.ProjectTag != filter.ProjectTag {
			continue
		}
		if filter.CategoryID != nil && tx.CategoryID != *filter.CategoryID {
			continue
		}
		if filter.DateFrom != "" && tx.Date < filter.DateFrom {
			continue
		}
		if filter.DateTo != "" && tx.Date > filter.DateTo {
			continue
		}
		out = append(out, tx)
	}
	// Date descending, newest creation first within a date.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) DeleteTransaction(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.transactions {
		if r.transactions[i].ID == id {
			r.transactions = append(r.transactions[:i], r.transactions[i+1:]...)
			return nil
		}
	}
	return ErrTransactionNotFound
}

func (r *MemoryRepository) CreateGrant(ctx context.Context, grant *domain.Grant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if grant.ID == uuid.Nil {
		grant.ID = uuid.New()
	}
	grant.AmountUtilized = decimal.Zero
	r.grants = append(r.grants, *grant)
	return nil
}

func (r *MemoryRepository) ListGrants(ctx context.Context) ([]domain.Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Grant(nil), r.grants...), nil
}

func (r *MemoryRepository) FindGrantByID(ctx context.Context, id uuid.UUID) (*domain.Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.grants {
		if r.grants[i].ID == id {
			g := r.grants[i]
			return &g, nil
		}
	}
	return nil, ErrGrantNotFound
}

func (r *MemoryRepository) UpdateGrantReceived(ctx context.Context, id uuid.UUID, received decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.grants {
		if r.grants[i].ID == id {
			r.grants[i].AmountReceived = received
			return nil
		}
	}
	return ErrGrantNotFound
}

func (r *MemoryRepository) SetGrantUtilization(ctx context.Context, id uuid.UUID, utilized decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.grants {
		if r.grants[i].ID == id {
			r.grants[i].AmountUtilized = utilized
			return nil
		}
	}
	return ErrGrantNotFound
}

// CreateInvestorWithInflow records the investor and its paired inflow under a
// single lock hold, so no reader ever observes one without the other.
func (r *MemoryRepository) CreateInvestorWithInflow(ctx context.Context, inv *domain.InvestorCapital, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	r.investors = append(r.investors, *inv)
	r.insertTransactionLocked(tx)
	return nil
}

func (r *MemoryRepository) ListInvestors(ctx context.Context) ([]domain.InvestorCapital, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.InvestorCapital(nil), r.investors...), nil
}

func (r *MemoryRepository) DeleteInvestor(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.investors {
		if r.investors[i].ID == id {
			r.investors = append(r.investors[:i], r.investors[i+1:]...)
			return nil
		}
	}
	return ErrInvestorNotFound
}

func (r *MemoryRepository) CreateHeadcount(ctx context.Context, hc *domain.Headcount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if hc.ID == uuid.Nil {
		hc.ID = uuid.New()
	}
	r.headcount = append(r.headcount, *hc)
	return nil
}

func (r *MemoryRepository) ListHeadcount(ctx context.Context) ([]domain.Headcount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Headcount(nil), r.headcount...), nil
}

func (r *MemoryRepository) UpdateHeadcount(ctx context.Context, hc *domain.Headcount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.headcount {
		if r.headcount[i].ID == hc.ID {
			r.headcount[i] = *hc
			return nil
		}
	}
	return ErrHeadcountNotFound
}

func (r *MemoryRepository) ListProjectTags(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.projectTags...), nil
}
