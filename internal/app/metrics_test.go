package app

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wittybot-avi/aayatana-fin-mgr/internal/domain"
)

func tx(txType, date string, amount int64, categoryID uuid.UUID) domain.Transaction {
	return domain.Transaction{
		ID:         uuid.New(),
		Date:       date,
		Type:       txType,
		CategoryID: categoryID,
		Amount:     decimal.NewFromInt(amount),
	}
}

func TestComputeMetrics(t *testing.T) {
	ref := time.Date(2025, time.June, 15, 10, 0, 0, 0, time.UTC)
	cat := uuid.New()

	txs := []domain.Transaction{
		tx(domain.TransactionInflow, "2025-04-05", 5000000, cat),
		tx(domain.TransactionOutflow, "2025-05-01", 300000, cat),
		tx(domain.TransactionOutflow, "2025-06-01", 150000, cat),
		// Outside the trailing three-month burn window; still hits the balance.
		tx(domain.TransactionOutflow, "2025-01-10", 600000, cat),
	}

	m := computeMetrics(txs, ref)

	wantBalance := decimal.NewFromInt(3950000)
	if !m.CurrentCashBalance.Equal(wantBalance) {
		t.Fatalf("expected balance %s, got %s", wantBalance, m.CurrentCashBalance)
	}
	wantBurn := decimal.NewFromInt(150000)
	if !m.MonthlyBurn.Equal(wantBurn) {
		t.Fatalf("expected monthly burn %s, got %s", wantBurn, m.MonthlyBurn)
	}
	if !m.TotalOutflowLastMonth.Equal(m.MonthlyBurn) {
		t.Fatalf("expected total outflow last month to equal monthly burn, got %s vs %s", m.TotalOutflowLastMonth, m.MonthlyBurn)
	}
	wantRunway := wantBalance.Div(wantBurn)
	if !m.RunwayMonths.Equal(wantRunway) {
		t.Fatalf("expected runway %s, got %s", wantRunway, m.RunwayMonths)
	}
}

func TestComputeMetricsZeroBurnMeansZeroRunway(t *testing.T) {
	ref := time.Date(2025, time.June, 15, 10, 0, 0, 0, time.UTC)
	cat := uuid.New()

	txs := []domain.Transaction{
		tx(domain.TransactionInflow, "2025-04-05", 1000000, cat),
		// Outflow far outside the burn window.
		tx(domain.TransactionOutflow, "2024-08-01", 50000, cat),
	}

	m := computeMetrics(txs, ref)
	if !m.MonthlyBurn.IsZero() {
		t.Fatalf("expected zero burn, got %s", m.MonthlyBurn)
	}
	if !m.RunwayMonths.IsZero() {
		t.Fatalf("expected zero runway when burn is zero, got %s", m.RunwayMonths)
	}
}

func TestComputeMetricsEmptyLedger(t *testing.T) {
	m := computeMetrics(nil, time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC))
	if !m.CurrentCashBalance.IsZero() || !m.MonthlyBurn.IsZero() || !m.RunwayMonths.IsZero() {
		t.Fatalf("expected all-zero metrics for empty ledger, got %+v", m)
	}
}

func TestComputeBreakdownGroupsByTopLevelCategory(t *testing.T) {
	electronics := domain.ChartOfAccount{ID: uuid.New(), Category: "R&D", Subcategory: "Electronics"}
	software := domain.ChartOfAccount{ID: uuid.New(), Category: "R&D", Subcategory: "Software"}
	infra := domain.ChartOfAccount{ID: uuid.New(), Category: "Infra", Subcategory: "Cloud/SaaS"}
	cats := []domain.ChartOfAccount{electronics, software, infra}

	txs := []domain.Transaction{
		tx(domain.TransactionOutflow, "2025-05-01", 100000, electronics.ID),
		tx(domain.TransactionOutflow, "2025-05-02", 50000, software.ID),
		tx(domain.TransactionOutflow, "2025-05-03", 25000, infra.ID),
		// Inflows never count toward spending.
		tx(domain.TransactionInflow, "2025-05-04", 900000, infra.ID),
		// Unresolvable category lands in the fallback bucket.
		tx(domain.TransactionOutflow, "2025-05-05", 7000, uuid.New()),
	}

	breakdown := computeBreakdown(txs, cats)

	totals := map[string]decimal.Decimal{}
	for _, entry := range breakdown {
		totals[entry.Name] = entry.Value
	}
	if len(totals) != 3 {
		t.Fatalf("expected 3 buckets, got %d: %v", len(totals), totals)
	}
	if !totals["R&D"].Equal(decimal.NewFromInt(150000)) {
		t.Fatalf("expected R&D total 150000, got %s", totals["R&D"])
	}
	if !totals["Infra"].Equal(decimal.NewFromInt(25000)) {
		t.Fatalf("expected Infra total 25000, got %s", totals["Infra"])
	}
	if !totals["Uncategorized"].Equal(decimal.NewFromInt(7000)) {
		t.Fatalf("expected Uncategorized total 7000, got %s", totals["Uncategorized"])
	}
}
