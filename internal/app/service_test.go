package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wittybot-avi/aayatana-fin-mgr/internal/domain"
	"github.com/wittybot-avi/aayatana-fin-mgr/internal/store"
	"github.com/wittybot-avi/aayatana-fin-mgr/pkg/rabbitmq"
)

// testEnv wires a service onto an in-memory store with one user per access
// tier and a small chart of accounts. The clock is pinned so fiscal-year and
// burn windows are stable.
type testEnv struct {
	svc  *Service
	repo *store.MemoryRepository

	admin  *domain.User
	writer *domain.User
	reader *domain.User

	rdID      uuid.UUID
	travelID  uuid.UUID
	infraID   uuid.UUID
	capitalID uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	repo := store.NewMemoryRepository("Admin")

	env := &testEnv{repo: repo}

	cats := []struct {
		id       *uuid.UUID
		category string
		sub      string
	}{
		{&env.rdID, "R&D", "Electronics"},
		{&env.travelID, "Travel", "Business"},
		{&env.infraID, "Infra", "Cloud/SaaS"},
		{&env.capitalID, "Capital", "Investment"},
	}
	for _, c := range cats {
		cat := &domain.ChartOfAccount{ID: uuid.New(), Category: c.category, Subcategory: c.sub}
		if err := repo.CreateCategory(ctx, cat); err != nil {
			t.Fatalf("seed category %s: %v", c.category, err)
		}
		*c.id = cat.ID
	}

	users := []struct {
		dst      **domain.User
		username string
		role     string
		access   string
	}{
		{&env.admin, "Admin", domain.RoleAdmin, ""},
		{&env.writer, "Avinash", domain.RoleFounder, domain.AccessReadWrite},
		{&env.reader, "Vinutha", domain.RoleFounder, domain.AccessReadOnly},
	}
	for _, u := range users {
		user := &domain.User{
			ID:          uuid.New(),
			Username:    u.username,
			Name:        u.username,
			Role:        u.role,
			Permissions: domain.PermissionsFor(u.role, u.access),
		}
		if err := repo.CreateUser(ctx, user); err != nil {
			t.Fatalf("seed user %s: %v", u.username, err)
		}
		*u.dst = user
	}

	env.svc = NewService(repo, &rabbitmq.EventProducerFallback{}, time.UTC)
	env.svc.now = func() time.Time {
		return time.Date(2025, time.June, 15, 10, 0, 0, 0, time.UTC)
	}
	return env
}

func (env *testEnv) ledgerSize(t *testing.T) int {
	t.Helper()
	txs, err := env.repo.ListTransactions(context.Background(), store.TransactionFilter{})
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	return len(txs)
}

func TestDeleteUserRootAdminImmutable(t *testing.T) {
	env := newTestEnv(t)

	err := env.svc.DeleteUser(context.Background(), env.admin, env.admin.ID)
	if !errors.Is(err, store.ErrRootAdminImmutable) {
		t.Fatalf("expected ErrRootAdminImmutable, got %v", err)
	}

	// Any other account deletes fine.
	if err := env.svc.DeleteUser(context.Background(), env.admin, env.reader.ID); err != nil {
		t.Fatalf("expected reader delete to succeed, got %v", err)
	}
}

func TestDeleteUserRequiresManageUsers(t *testing.T) {
	env := newTestEnv(t)

	err := env.svc.DeleteUser(context.Background(), env.writer, env.reader.ID)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestCreateUserDerivesPermissionsFromRole(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.svc.CreateUser(context.Background(), env.admin, domain.CreateUserRequest{
		Username:    "Shrikanth",
		Password:    "Shrikanth@123",
		Name:        "Shrikanth Rao",
		Role:        domain.RoleFounder,
		AccessLevel: domain.AccessReadOnly,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.HasPermission(domain.PermEditTransactions) {
		t.Fatalf("read-only founder must not hold edit_transactions: %v", created.Permissions)
	}
	if !created.HasPermission(domain.PermViewFinancials) {
		t.Fatalf("read-only founder must hold view_financials: %v", created.Permissions)
	}
	if !created.IsFirstLogin {
		t.Fatal("new users must start with the first-login flag set")
	}
	if created.PasswordHash != "" {
		t.Fatal("credential hash must be stripped from the create response")
	}
}

func TestCreateUserRejectsDuplicateUsername(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CreateUser(context.Background(), env.admin, domain.CreateUserRequest{
		Username: "avinash", // differs only in case
		Password: "Password1",
		Role:     domain.RoleFounder,
	})
	if !errors.Is(err, store.ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestCreateTransactionIncrementsGrantUtilization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	grant, err := env.svc.CreateGrant(ctx, env.writer, domain.CreateGrantRequest{
		Name:            "Hardware Prototyping Grant",
		TotalSanctioned: decimal.NewFromInt(1000000),
		AmountReceived:  decimal.NewFromInt(400000),
	})
	if err != nil {
		t.Fatalf("create grant: %v", err)
	}

	for _, amount := range []int64{120000, 80000} {
		_, err := env.svc.CreateTransaction(ctx, env.writer, domain.CreateTransactionRequest{
			Type:        domain.TransactionOutflow,
			CategoryID:  env.rdID,
			Description: "PCB fabrication",
			Amount:      decimal.NewFromInt(amount),
			GrantID:     &grant.ID,
		})
		if err != nil {
			t.Fatalf("create transaction: %v", err)
		}
	}

	got, err := env.repo.FindGrantByID(ctx, grant.ID)
	if err != nil {
		t.Fatalf("find grant: %v", err)
	}
	want := decimal.NewFromInt(200000)
	if !got.AmountUtilized.Equal(want) {
		t.Fatalf("expected utilization %s, got %s", want, got.AmountUtilized)
	}
}

func TestUpdateGrantReceived(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	grant, err := env.svc.CreateGrant(ctx, env.writer, domain.CreateGrantRequest{
		Name:            "Deep Tech Grant",
		TotalSanctioned: decimal.NewFromInt(1000000),
		AmountReceived:  decimal.NewFromInt(250000),
	})
	if err != nil {
		t.Fatalf("create grant: %v", err)
	}

	if err := env.svc.UpdateGrantReceived(ctx, env.reader, grant.ID, decimal.NewFromInt(500000)); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied for a read-only caller, got %v", err)
	}
	var verr *ValidationError
	if err := env.svc.UpdateGrantReceived(ctx, env.writer, grant.ID, decimal.NewFromInt(-1)); !errors.As(err, &verr) {
		t.Fatalf("expected a validation error for a negative amount, got %v", err)
	}

	if err := env.svc.UpdateGrantReceived(ctx, env.writer, grant.ID, decimal.NewFromInt(500000)); err != nil {
		t.Fatalf("update received: %v", err)
	}
	got, err := env.repo.FindGrantByID(ctx, grant.ID)
	if err != nil {
		t.Fatalf("find grant: %v", err)
	}
	if !got.AmountReceived.Equal(decimal.NewFromInt(500000)) {
		t.Fatalf("expected received 500000, got %s", got.AmountReceived)
	}
	if !got.TotalSanctioned.Equal(decimal.NewFromInt(1000000)) {
		t.Fatal("sanctioned amount must be untouched")
	}
}

func TestCreateTransactionDanglingGrantIsNonFatal(t *testing.T) {
	env := newTestEnv(t)
	missing := uuid.New()

	tx, err := env.svc.CreateTransaction(context.Background(), env.writer, domain.CreateTransactionRequest{
		Type:        domain.TransactionOutflow,
		CategoryID:  env.rdID,
		Description: "Sensor order",
		Amount:      decimal.NewFromInt(5000),
		GrantID:     &missing,
	})
	if err != nil {
		t.Fatalf("expected dangling grant link to be non-fatal, got %v", err)
	}
	if tx.GrantID == nil || *tx.GrantID != missing {
		t.Fatal("the dangling link must still be recorded on the transaction")
	}
}

func TestCreateTransactionValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  domain.CreateTransactionRequest
	}{
		{
			name: "bad type",
			req:  domain.CreateTransactionRequest{Type: "TRANSFER", CategoryID: env.rdID, Amount: decimal.NewFromInt(100)},
		},
		{
			name: "zero amount",
			req:  domain.CreateTransactionRequest{Type: domain.TransactionOutflow, CategoryID: env.rdID, Amount: decimal.Zero},
		},
		{
			name: "negative amount",
			req:  domain.CreateTransactionRequest{Type: domain.TransactionOutflow, CategoryID: env.rdID, Amount: decimal.NewFromInt(-100)},
		},
		{
			name: "missing category",
			req:  domain.CreateTransactionRequest{Type: domain.TransactionOutflow, Amount: decimal.NewFromInt(100)},
		},
		{
			name: "malformed date",
			req:  domain.CreateTransactionRequest{Type: domain.TransactionOutflow, CategoryID: env.rdID, Amount: decimal.NewFromInt(100), Date: "15-06-2025"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.CreateTransaction(ctx, env.writer, tt.req)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestListTransactionsAppliesFiscalYearWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// One inside the pinned fiscal year (2025-04-01..2026-03-31), one before it.
	for _, d := range []string{"2025-05-01", "2025-03-20"} {
		if _, err := env.repo.CreateTransaction(ctx, &domain.Transaction{
			Date:       d,
			Type:       domain.TransactionOutflow,
			CategoryID: env.rdID,
			Amount:     decimal.NewFromInt(1000),
			UserID:     env.writer.ID,
		}); err != nil {
			t.Fatalf("seed transaction: %v", err)
		}
	}

	txs, err := env.svc.ListTransactions(ctx, env.writer, store.TransactionFilter{})
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected only the in-year transaction, got %d", len(txs))
	}
	if txs[0].Date != "2025-05-01" {
		t.Fatalf("expected 2025-05-01, got %s", txs[0].Date)
	}
}

func TestListTransactionsScopesLimitedUsersToOwnRows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	employee := &domain.User{
		ID:          uuid.New(),
		Username:    "intern",
		Role:        domain.RoleEmployee,
		Permissions: domain.PermissionsFor(domain.RoleEmployee, ""),
	}
	if err := env.repo.CreateUser(ctx, employee); err != nil {
		t.Fatalf("seed employee: %v", err)
	}

	for _, owner := range []uuid.UUID{env.writer.ID, employee.ID} {
		if _, err := env.repo.CreateTransaction(ctx, &domain.Transaction{
			Date:       "2025-05-01",
			Type:       domain.TransactionOutflow,
			CategoryID: env.rdID,
			Amount:     decimal.NewFromInt(500),
			UserID:     owner,
		}); err != nil {
			t.Fatalf("seed transaction: %v", err)
		}
	}

	txs, err := env.svc.ListTransactions(ctx, employee, store.TransactionFilter{})
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 1 || txs[0].UserID != employee.ID {
		t.Fatalf("expected exactly the employee's own row, got %d rows", len(txs))
	}

	// A full-visibility caller sees both.
	all, err := env.svc.ListTransactions(ctx, env.writer, store.TransactionFilter{})
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both rows for view_financials caller, got %d", len(all))
	}
}

func TestDashboardMetricsScopedToOwnRows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	employee := &domain.User{
		ID:          uuid.New(),
		Username:    "Kiran",
		Name:        "Kiran",
		Role:        domain.RoleEmployee,
		Permissions: domain.PermissionsFor(domain.RoleEmployee, ""),
	}
	if err := env.repo.CreateUser(ctx, employee); err != nil {
		t.Fatalf("seed employee: %v", err)
	}

	// The founder's rows must stay invisible to the employee's aggregates.
	for _, tx := range []domain.CreateTransactionRequest{
		{Type: domain.TransactionInflow, CategoryID: env.capitalID, Description: "Seed round", Amount: decimal.NewFromInt(1000000), Date: "2025-06-01"},
		{Type: domain.TransactionOutflow, CategoryID: env.travelID, Description: "Conference travel", Amount: decimal.NewFromInt(90000), Date: "2025-06-01"},
	} {
		if _, err := env.svc.CreateTransaction(ctx, env.writer, tx); err != nil {
			t.Fatalf("create founder transaction: %v", err)
		}
	}
	if _, err := env.svc.CreateTransaction(ctx, employee, domain.CreateTransactionRequest{
		Type:        domain.TransactionOutflow,
		CategoryID:  env.rdID,
		Description: "Bench components",
		Amount:      decimal.NewFromInt(30000),
		Date:        "2025-06-01",
	}); err != nil {
		t.Fatalf("create employee transaction: %v", err)
	}

	metrics, err := env.svc.DashboardMetrics(ctx, employee)
	if err != nil {
		t.Fatalf("dashboard metrics: %v", err)
	}
	if !metrics.CurrentCashBalance.Equal(decimal.NewFromInt(-30000)) {
		t.Fatalf("expected balance -30000 from own rows only, got %s", metrics.CurrentCashBalance)
	}
	if !metrics.MonthlyBurn.Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("expected burn 10000 from own rows only, got %s", metrics.MonthlyBurn)
	}

	breakdown, err := env.svc.CategoryBreakdown(ctx, employee)
	if err != nil {
		t.Fatalf("category breakdown: %v", err)
	}
	if len(breakdown) != 1 || breakdown[0].Name != "R&D" || !breakdown[0].Value.Equal(decimal.NewFromInt(30000)) {
		t.Fatalf("expected only the employee's R&D outflow, got %+v", breakdown)
	}
}

func TestCreateInvestorPairsCapitalInflow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	inv, err := env.svc.CreateInvestor(ctx, env.writer, domain.CreateInvestorRequest{
		InvestorName: "Bluegrass Ventures",
		Amount:       decimal.NewFromInt(2500000),
		Instrument:   "iSAFE",
		DateReceived: "2025-05-20",
	})
	if err != nil {
		t.Fatalf("create investor: %v", err)
	}

	txs, err := env.repo.ListTransactions(ctx, store.TransactionFilter{Type: domain.TransactionInflow})
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected exactly one paired inflow, got %d", len(txs))
	}
	paired := txs[0]
	if paired.Description != "Investment from Bluegrass Ventures (iSAFE)" {
		t.Fatalf("unexpected paired description %q", paired.Description)
	}
	if paired.CategoryID != env.capitalID {
		t.Fatal("paired inflow must land in the Capital category")
	}
	if !paired.Amount.Equal(inv.Amount) {
		t.Fatalf("paired amount %s must equal investor amount %s", paired.Amount, inv.Amount)
	}
	if paired.Mode != domain.ModeAccountTransfer || paired.ProjectTag != "Business" {
		t.Fatalf("unexpected paired mode/tag: %s/%s", paired.Mode, paired.ProjectTag)
	}

	invs, err := env.repo.ListInvestors(ctx)
	if err != nil {
		t.Fatalf("list investors: %v", err)
	}
	if len(invs) != 1 || invs[0].ID != inv.ID {
		t.Fatalf("expected exactly the one investor record, got %+v", invs)
	}
}

func TestDeleteInvestorRequiresManageCapital(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	inv, err := env.svc.CreateInvestor(ctx, env.writer, domain.CreateInvestorRequest{
		InvestorName: "Bluegrass Ventures",
		Amount:       decimal.NewFromInt(100000),
		Instrument:   "Equity",
	})
	if err != nil {
		t.Fatalf("create investor: %v", err)
	}

	if err := env.svc.DeleteInvestor(ctx, env.reader, inv.ID); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if err := env.svc.DeleteInvestor(ctx, env.writer, inv.ID); err != nil {
		t.Fatalf("delete investor: %v", err)
	}
	invs, err := env.repo.ListInvestors(ctx)
	if err != nil {
		t.Fatalf("list investors: %v", err)
	}
	if len(invs) != 0 {
		t.Fatalf("expected no investors left, got %d", len(invs))
	}
}

func TestCreateInvestorRejectsUnknownInstrument(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CreateInvestor(context.Background(), env.writer, domain.CreateInvestorRequest{
		InvestorName: "Bluegrass Ventures",
		Amount:       decimal.NewFromInt(100000),
		Instrument:   "Revenue Share",
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if env.ledgerSize(t) != 0 {
		t.Fatal("a rejected investor must not leave a paired inflow behind")
	}
}

func TestCreateInvestorRequiresManageCapital(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CreateInvestor(context.Background(), env.reader, domain.CreateInvestorRequest{
		InvestorName: "Bluegrass Ventures",
		Amount:       decimal.NewFromInt(100000),
		Instrument:   "Equity",
	})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

type recordingPublisher struct {
	exchanges []string
	keys      []string
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.exchanges = append(p.exchanges, exchange)
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *recordingPublisher) PublishGrantDriftEvent(ctx context.Context, exchange string, event rabbitmq.GrantDriftEvent) error {
	p.exchanges = append(p.exchanges, exchange)
	p.keys = append(p.keys, rabbitmq.RoutingGrantUtilizationDrift)
	return nil
}

func (p *recordingPublisher) Close() {}

func TestEventsPublishOnConfiguredExchange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := &recordingPublisher{}
	svc := NewService(env.repo, rec, time.UTC)
	svc.SetEventExchange("office_finance_events")

	if _, err := svc.CreateTransaction(ctx, env.writer, domain.CreateTransactionRequest{
		Type:        domain.TransactionOutflow,
		CategoryID:  env.rdID,
		Description: "Bench supplies",
		Amount:      decimal.NewFromInt(4000),
	}); err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	if len(rec.exchanges) == 0 {
		t.Fatal("expected at least one published event")
	}
	for i, exchange := range rec.exchanges {
		if exchange != "office_finance_events" {
			t.Fatalf("event %s published on %q, want the configured exchange", rec.keys[i], exchange)
		}
	}
	if rec.keys[len(rec.keys)-1] != rabbitmq.RoutingTransactionCreated {
		t.Fatalf("expected a %s event, got %v", rabbitmq.RoutingTransactionCreated, rec.keys)
	}
}

func TestCreateHeadcountValidatesAllocation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CreateHeadcount(context.Background(), env.writer, domain.CreateHeadcountRequest{
		Name:              "Asha",
		Role:              "Firmware Engineer",
		CTCMonthly:        decimal.NewFromInt(120000),
		AllocationPercent: 140,
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error for allocation > 100, got %v", err)
	}
}
