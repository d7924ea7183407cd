/**
 * @description
 * The metrics engine: cash balance, trailing-3-month burn, runway, and the
 * category breakdown, all computed over the caller-visible transaction set with
 * exact decimal arithmetic. Intermediate sums never round; display layers may.
 *
 * @notes
 * - Metrics aggregate the full visible history, not the current fiscal-year
 *   window. Year-windowing is a listing-time concern here; the two were
 *   inconsistent upstream and this is the documented choice (see DESIGN.md).
 * - totalOutflowLastMonth is defined as the trailing-3-month outflow average,
 *   i.e. equal to monthlyBurn.
 */

package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wittybot-avi/aayatana-fin-mgr/internal/domain"
)

var three = decimal.NewFromInt(3)

// DashboardMetrics computes cash balance, monthly burn and runway over the
// transactions visible to the caller.
func (s *Service) DashboardMetrics(ctx context.Context, caller *domain.User) (*domain.DashboardMetrics, error) {
	txs, err := s.visibleTransactions(ctx, caller)
	if err != nil {
		return nil, err
	}
	return computeMetrics(txs, s.now().In(s.loc)), nil
}

func computeMetrics(txs []domain.Transaction, ref time.Time) *domain.DashboardMetrics {
	balance := decimal.Zero
	recentBurn := decimal.Zero
	burnFrom := ref.AddDate(0, -3, 0).Format("2006-01-02")

	for _, tx := range txs {
		switch tx.Type {
		case domain.TransactionInflow:
			balance = balance.Add(tx.Amount)
		case domain.TransactionOutflow:
			balance = balance.Sub(tx.Amount)
			if tx.Date >= burnFrom {
				recentBurn = recentBurn.Add(tx.Amount)
			}
		}
	}

	monthlyBurn := decimal.Zero
	if recentBurn.IsPositive() {
		monthlyBurn = recentBurn.Div(three)
	}
	// Runway is defined as zero when there is no burn; never NaN or infinity.
	runway := decimal.Zero
	if monthlyBurn.IsPositive() {
		runway = balance.Div(monthlyBurn)
	}

	return &domain.DashboardMetrics{
		CurrentCashBalance:    balance,
		MonthlyBurn:           monthlyBurn,
		RunwayMonths:          runway,
		TotalOutflowLastMonth: monthlyBurn,
	}
}

// CategoryBreakdown groups the caller-visible OUTFLOW transactions by their
// category's top-level name. Transactions whose category cannot be resolved
// land in the "Uncategorized" bucket. The result is unordered.
func (s *Service) CategoryBreakdown(ctx context.Context, caller *domain.User) ([]domain.CategoryTotal, error) {
	txs, err := s.visibleTransactions(ctx, caller)
	if err != nil {
		return nil, err
	}
	cats, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	return computeBreakdown(txs, cats), nil
}

func computeBreakdown(txs []domain.Transaction, cats []domain.ChartOfAccount) []domain.CategoryTotal {
	names := make(map[uuid.UUID]string, len(cats))
	for _, c := range cats {
		names[c.ID] = c.Category
	}

	totals := map[string]decimal.Decimal{}
	for _, tx := range txs {
		if tx.Type != domain.TransactionOutflow {
			continue
		}
		name, ok := names[tx.CategoryID]
		if !ok {
			name = "Uncategorized"
		}
		totals[name] = totals[name].Add(tx.Amount)
	}

	out := make([]domain.CategoryTotal, 0, len(totals))
	for name, value := range totals {
		out = append(out, domain.CategoryTotal{Name: name, Value: value})
	}
	return out
}
