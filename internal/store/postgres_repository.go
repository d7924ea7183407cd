/**
 * @description
 * PostgreSQL implementation of the `Repository` interface. Money columns are
 * NUMERIC and scanned into decimal.Decimal, so aggregation precision survives
 * the round trip. Transaction creation runs inside a database transaction that
 * also performs the grant-utilization increment (SELECT ... FOR UPDATE, so
 * concurrent creations against one grant serialize) and the project-tag upsert.
 *
 * @dependencies
 * - context, errors, strings: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver.
 * - golang.org/x/crypto/bcrypt: Credential comparison for Authenticate.
 * - internal/domain: Domain models.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/wittybot-avi/aayatana-fin-mgr/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface
// for PostgreSQL.
type PostgresRepository struct {
	db                *pgxpool.Pool
	rootAdminUsername string
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool, rootAdminUsername string) *PostgresRepository {
	return &PostgresRepository{db: db, rootAdminUsername: rootAdminUsername}
}

func (r *PostgresRepository) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	var user domain.User
	var hash string
	query := `SELECT id, username, password_hash, name, role, COALESCE(email, ''), COALESCE(phone, ''), is_first_login, permissions
	          FROM users WHERE lower(btrim(username)) = lower(btrim($1))`
	err := r.db.QueryRow(ctx, query, username).Scan(
		&user.ID, &user.Username, &hash, &user.Name, &user.Role, &user.Email, &user.Phone, &user.IsFirstLogin, &user.Permissions,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Same rejection as a bad password; never reveal username existence.
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

func (r *PostgresRepository) CreateUser(ctx context.Context, user *domain.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	query := `INSERT INTO users (id, username, password_hash, name, role, email, phone, is_first_login, permissions)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.Exec(ctx, query,
		user.ID, user.Username, user.PasswordHash, user.Name, user.Role, user.Email, user.Phone, user.IsFirstLogin, user.Permissions,
	)
	return err
}

func (r *PostgresRepository) ListUsers(ctx context.Context) ([]domain.User, error) {
	query := `SELECT id, username, name, role, COALESCE(email, ''), COALESCE(phone, ''), is_first_login, permissions
	          FROM users ORDER BY username`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Name, &u.Role, &u.Email, &u.Phone, &u.IsFirstLogin, &u.Permissions); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *PostgresRepository) FindUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var u domain.User
	query := `SELECT id, username, name, role, COALESCE(email, ''), COALESCE(phone, ''), is_first_login, permissions
	          FROM users WHERE id = $1`
	err := r.db.QueryRow(ctx, query, id).Scan(&u.ID, &u.Username, &u.Name, &u.Role, &u.Email, &u.Phone, &u.IsFirstLogin, &u.Permissions)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *PostgresRepository) UpdateUserProfile(ctx context.Context, id uuid.UUID, name, email, phone string) error {
	query := `UPDATE users SET name = COALESCE(NULLIF($2, ''), name), email = $3, phone = $4 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, name, email, phone)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateUserPermissions(ctx context.Context, id uuid.UUID, permissions []string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET permissions = $2 WHERE id = $1`, id, permissions)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET password_hash = $2, is_first_login = FALSE WHERE id = $1`, id, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteUser(ctx context.Context, id uuid.UUID) error {
	var username string
	err := r.db.QueryRow(ctx, `SELECT username FROM users WHERE id = $1`, id).Scan(&username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return err
	}
	if strings.EqualFold(username, r.rootAdminUsername) {
		return ErrRootAdminImmutable
	}
	_, err = r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	return err
}

func (r *PostgresRepository) ListCategories(ctx context.Context) ([]domain.ChartOfAccount, error) {
	query := `SELECT id, category, COALESCE(subcategory, ''), COALESCE(notes, '') FROM chart_of_accounts ORDER BY category, subcategory`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cats []domain.ChartOfAccount
	for rows.Next() {
		var c domain.ChartOfAccount
		if err := rows.Scan(&c.ID, &c.Category, &c.Subcategory, &c.Notes); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

func (r *PostgresRepository) CreateCategory(ctx context.Context, cat *domain.ChartOfAccount) error {
	if cat.ID == uuid.Nil {
		cat.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO chart_of_accounts (id, category, subcategory, notes) VALUES ($1, $2, $3, $4)`,
		cat.ID, cat.Category, cat.Subcategory, cat.Notes,
	)
	return err
}

func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) (bool, error) {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}

	dbtx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer dbtx.Rollback(ctx)

	grantMissing := false
	if tx.GrantID != nil {
		// Lock the grant row so concurrent utilization increments serialize.
		var utilized decimal.Decimal
		err := dbtx.QueryRow(ctx, `SELECT amount_utilized FROM grants WHERE id = $1 FOR UPDATE`, *tx.GrantID).Scan(&utilized)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			grantMissing = true
		case err != nil:
			return false, err
		default:
			if _, err := dbtx.Exec(ctx,
				`UPDATE grants SET amount_utilized = amount_utilized + $2 WHERE id = $1`,
				*tx.GrantID, tx.Amount,
			); err != nil {
				return false, err
			}
		}
	}

	query := `INSERT INTO transactions (id, date, type, category_id, vendor, description, amount, mode, project_tag, grant_id, user_id, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, COALESCE($12, now()))
	          RETURNING created_at`
	var createdAt interface{}
	if !tx.CreatedAt.IsZero() {
		createdAt = tx.CreatedAt
	}
	if err := dbtx.QueryRow(ctx, query,
		tx.ID, tx.Date, tx.Type, tx.CategoryID, tx.Vendor, tx.Description, tx.Amount, tx.Mode, tx.ProjectTag, tx.GrantID, tx.UserID, createdAt,
	).Scan(&tx.CreatedAt); err != nil {
		return false, err
	}

	if tx.ProjectTag != "" {
		if _, err := dbtx.Exec(ctx,
			`INSERT INTO project_tags (tag) VALUES ($1) ON CONFLICT (tag) DO NOTHING`, tx.ProjectTag,
		); err != nil {
			return false, err
		}
	}

	if err := dbtx.Commit(ctx); err != nil {
		return false, err
	}
	return grantMissing, nil
}

func (r *PostgresRepository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]domain.Transaction, error) {
	query := `SELECT id, to_char(date, 'YYYY-MM-DD'), type, category_id, COALESCE(vendor, ''), COALESCE(description, ''), amount,
	                 COALESCE(mode, ''), COALESCE(project_tag, ''), grant_id, user_id, created_at
	          FROM transactions WHERE 1=1`
	args := []interface{}{}
	n := 0
	add := func(clause string, value interface{}) {
		n++
		query += fmt.Sprintf(" AND %s $%d", clause, n)
		args = append(args, value)
	}
	if filter.UserID != nil {
		add("user_id =", *filter.UserID)
	}
	if filter.Type != "" {
		add("type =", filter.Type)
	}
	if filter.ProjectTag != "" {
		add("project_tag =", filter.ProjectTag)
	}
	if filter.CategoryID != nil {
		add("category_id =", *filter.CategoryID)
	}
	if filter.DateFrom != "" {
		add("date >=", filter.DateFrom)
	}
	if filter.DateTo != "" {
		add("date <=", filter.DateTo)
	}
	query += " ORDER BY date DESC, created_at DESC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.Date, &t.Type, &t.CategoryID, &t.Vendor, &t.Description, &t.Amount,
			&t.Mode, &t.ProjectTag, &t.GrantID, &t.UserID, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (r *PostgresRepository) DeleteTransaction(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *PostgresRepository) CreateGrant(ctx context.Context, grant *domain.Grant) error {
	if grant.ID == uuid.Nil {
		grant.ID = uuid.New()
	}
	grant.AmountUtilized = decimal.Zero
	_, err := r.db.Exec(ctx,
		`INSERT INTO grants (id, name, total_sanctioned, amount_received, amount_utilized, deadline, notes)
		 VALUES ($1, $2, $3, $4, 0, NULLIF($5, '')::date, $6)`,
		grant.ID, grant.Name, grant.TotalSanctioned, grant.AmountReceived, grant.Deadline, grant.Notes,
	)
	return err
}

func (r *PostgresRepository) ListGrants(ctx context.Context) ([]domain.Grant, error) {
	query := `SELECT id, name, total_sanctioned, amount_received, amount_utilized,
	                 COALESCE(to_char(deadline, 'YYYY-MM-DD'), ''), COALESCE(notes, '')
	          FROM grants ORDER BY name`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []domain.Grant
	for rows.Next() {
		var g domain.Grant
		if err := rows.Scan(&g.ID, &g.Name, &g.TotalSanctioned, &g.AmountReceived, &g.AmountUtilized, &g.Deadline, &g.Notes); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (r *PostgresRepository) FindGrantByID(ctx context.Context, id uuid.UUID) (*domain.Grant, error) {
	var g domain.Grant
	query := `SELECT id, name, total_sanctioned, amount_received, amount_utilized,
	                 COALESCE(to_char(deadline, 'YYYY-MM-DD'), ''), COALESCE(notes, '')
	          FROM grants WHERE id = $1`
	err := r.db.QueryRow(ctx, query, id).Scan(&g.ID, &g.Name, &g.TotalSanctioned, &g.AmountReceived, &g.AmountUtilized, &g.Deadline, &g.Notes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGrantNotFound
		}
		return nil, err
	}
	return &g, nil
}

func (r *PostgresRepository) UpdateGrantReceived(ctx context.Context, id uuid.UUID, received decimal.Decimal) error {
	tag, err := r.db.Exec(ctx, `UPDATE grants SET amount_received = $2 WHERE id = $1`, id, received)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrGrantNotFound
	}
	return nil
}

func (r *PostgresRepository) SetGrantUtilization(ctx context.Context, id uuid.UUID, utilized decimal.Decimal) error {
	tag, err := r.db.Exec(ctx, `UPDATE grants SET amount_utilized = $2 WHERE id = $1`, id, utilized)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrGrantNotFound
	}
	return nil
}

// CreateInvestorWithInflow inserts the investor record and its paired inflow
// in one database transaction, so a failure on either side leaves neither.
func (r *PostgresRepository) CreateInvestorWithInflow(ctx context.Context, inv *domain.InvestorCapital, tx *domain.Transaction) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}

	dbtx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer dbtx.Rollback(ctx)

	if _, err := dbtx.Exec(ctx,
		`INSERT INTO investors (id, investor_name, date_received, amount, instrument, usage_notes)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		inv.ID, inv.InvestorName, inv.DateReceived, inv.Amount, inv.Instrument, inv.UsageNotes,
	); err != nil {
		return err
	}

	if err := dbtx.QueryRow(ctx,
		`INSERT INTO transactions (id, date, type, category_id, vendor, description, amount, mode, project_tag, grant_id, user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		 RETURNING created_at`,
		tx.ID, tx.Date, tx.Type, tx.CategoryID, tx.Vendor, tx.Description, tx.Amount, tx.Mode, tx.ProjectTag, tx.GrantID, tx.UserID,
	).Scan(&tx.CreatedAt); err != nil {
		return err
	}

	if tx.ProjectTag != "" {
		if _, err := dbtx.Exec(ctx,
			`INSERT INTO project_tags (tag) VALUES ($1) ON CONFLICT (tag) DO NOTHING`, tx.ProjectTag,
		); err != nil {
			return err
		}
	}

	return dbtx.Commit(ctx)
}

func (r *PostgresRepository) ListInvestors(ctx context.Context) ([]domain.InvestorCapital, error) {
	query := `SELECT id, investor_name, to_char(date_received, 'YYYY-MM-DD'), amount, instrument, COALESCE(usage_notes, '')
	          FROM investors ORDER BY date_received DESC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invs []domain.InvestorCapital
	for rows.Next() {
		var v domain.InvestorCapital
		if err := rows.Scan(&v.ID, &v.InvestorName, &v.DateReceived, &v.Amount, &v.Instrument, &v.UsageNotes); err != nil {
			return nil, err
		}
		invs = append(invs, v)
	}
	return invs, rows.Err()
}

func (r *PostgresRepository) DeleteInvestor(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM investors WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvestorNotFound
	}
	return nil
}

func (r *PostgresRepository) CreateHeadcount(ctx context.Context, hc *domain.Headcount) error {
	if hc.ID == uuid.Nil {
		hc.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO headcount (id, name, role, ctc_monthly, start_date, allocation_percent, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		hc.ID, hc.Name, hc.Role, hc.CTCMonthly, hc.StartDate, hc.AllocationPercent, hc.Notes,
	)
	return err
}

func (r *PostgresRepository) ListHeadcount(ctx context.Context) ([]domain.Headcount, error) {
	query := `SELECT id, name, role, ctc_monthly, to_char(start_date, 'YYYY-MM-DD'), allocation_percent, COALESCE(notes, '')
	          FROM headcount ORDER BY name`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hcs []domain.Headcount
	for rows.Next() {
		var h domain.Headcount
		if err := rows.Scan(&h.ID, &h.Name, &h.Role, &h.CTCMonthly, &h.StartDate, &h.AllocationPercent, &h.Notes); err != nil {
			return nil, err
		}
		hcs = append(hcs, h)
	}
	return hcs, rows.Err()
}

func (r *PostgresRepository) UpdateHeadcount(ctx context.Context, hc *domain.Headcount) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE headcount SET name = $2, role = $3, ctc_monthly = $4, start_date = $5, allocation_percent = $6, notes = $7 WHERE id = $1`,
		hc.ID, hc.Name, hc.Role, hc.CTCMonthly, hc.StartDate, hc.AllocationPercent, hc.Notes,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrHeadcountNotFound
	}
	return nil
}

func (r *PostgresRepository) ListProjectTags(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT tag FROM project_tags ORDER BY tag`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}
