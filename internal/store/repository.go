/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for
 * all data access operations required by the finance service. The interface
 * decouples business logic from the persistence engine: production runs against
 * PostgreSQL, while a seeded in-memory implementation backs tests and the
 * standalone demo mode.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For entity identifiers.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wittybot-avi/aayatana-fin-mgr/internal/domain"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrRootAdminImmutable  = errors.New("root admin account cannot be deleted")
	ErrUsernameTaken       = errors.New("username already taken")
	ErrGrantNotFound       = errors.New("grant not found")
	ErrCategoryNotFound    = errors.New("category not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvestorNotFound    = errors.New("investor not found")
	ErrHeadcountNotFound   = errors.New("headcount record not found")
)

// TransactionFilter narrows a transaction listing. All predicates are optional
// and conjunctive. The access-control layer forces UserID before the filter
// reaches the repository, so row-level security holds for every query path.
type TransactionFilter struct {
	UserID     *uuid.UUID
	Type       string
	ProjectTag string
	CategoryID *uuid.UUID
	DateFrom   string // inclusive, YYYY-MM-DD
	DateTo     string // inclusive, YYYY-MM-DD
}

// Repository defines the set of methods for interacting with persistent state.
type Repository interface {
	// Authenticate matches the username case-insensitively and compares the
	// credential against the stored bcrypt hash. On success it returns the user
	// with the credential field stripped; on any failure it returns
	// ErrInvalidCredentials without revealing whether the username exists.
	Authenticate(ctx context.Context, username, password string) (*domain.User, error)

	// User methods. Read paths never include the credential hash.
	CreateUser(ctx context.Context, user *domain.User) error
	ListUsers(ctx context.Context) ([]domain.User, error)
	FindUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	UpdateUserProfile(ctx context.Context, id uuid.UUID, name, email, phone string) error
	UpdateUserPermissions(ctx context.Context, id uuid.UUID, permissions []string) error
	// UpdateUserPassword stores a new credential hash and clears the
	// first-login flag.
	UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	// DeleteUser refuses with ErrRootAdminImmutable when the target is the
	// reserved root admin account.
	DeleteUser(ctx context.Context, id uuid.UUID) error

	// Chart of accounts.
	ListCategories(ctx context.Context) ([]domain.ChartOfAccount, error)
	CreateCategory(ctx context.Context, cat *domain.ChartOfAccount) error

	// Transactions. CreateTransaction also applies the grant-utilization
	// increment when the transaction links a grant, atomically with the insert,
	// and registers a previously unseen project tag. It reports grantMissing
	// when the linked grant id does not resolve; the transaction is still
	// created in that case (linkage is advisory, not referentially enforced).
	CreateTransaction(ctx context.Context, tx *domain.Transaction) (grantMissing bool, err error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]domain.Transaction, error)
	DeleteTransaction(ctx context.Context, id uuid.UUID) error

	// Grants.
	CreateGrant(ctx context.Context, grant *domain.Grant) error
	ListGrants(ctx context.Context) ([]domain.Grant, error)
	FindGrantByID(ctx context.Context, id uuid.UUID) (*domain.Grant, error)
	// UpdateGrantReceived records a new received-to-date amount for a grant,
	// as tranches arrive after registration.
	UpdateGrantReceived(ctx context.Context, id uuid.UUID, received decimal.Decimal) error
	// SetGrantUtilization overwrites the derived utilized amount. Only the
	// reconciliation sweep uses it, to repair drift.
	SetGrantUtilization(ctx context.Context, id uuid.UUID, utilized decimal.Decimal) error

	// Investor capital. CreateInvestorWithInflow records the investor and its
	// paired capital-inflow transaction atomically (one database transaction in
	// Postgres, one lock hold in memory), so neither can exist without the
	// other.
	CreateInvestorWithInflow(ctx context.Context, inv *domain.InvestorCapital, tx *domain.Transaction) error
	ListInvestors(ctx context.Context) ([]domain.InvestorCapital, error)
	DeleteInvestor(ctx context.Context, id uuid.UUID) error

	// Headcount.
	CreateHeadcount(ctx context.Context, hc *domain.Headcount) error
	ListHeadcount(ctx context.Context) ([]domain.Headcount, error)
	UpdateHeadcount(ctx context.Context, hc *domain.Headcount) error

	// Project tags, auto-registered on first use by CreateTransaction.
	ListProjectTags(ctx context.Context) ([]string, error)
}
