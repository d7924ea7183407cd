/**
 * @description
 * Row-level visibility for transaction reads. The filter resolves the visible
 * subset before fiscal-year windowing and before any metrics aggregation, by
 * forcing the user predicate on the repository query.
 */

package app

import (
	"context"

	"github.com/wittybot-avi/aayatana-fin-mgr/internal/domain"
	"github.com/wittybot-avi/aayatana-fin-mgr/internal/store"
)

// restrictVisibility applies row-level security to a transaction filter:
// callers holding view_financials see every row; everyone else (including
// callers with no view capability at all) is pinned to their own rows.
// An unknown or absent capability never expands visibility.
func (s *Service) restrictVisibility(caller *domain.User, filter store.TransactionFilter) store.TransactionFilter {
	if caller.HasPermission(domain.PermViewFinancials) {
		return filter
	}
	id := caller.ID
	filter.UserID = &id
	return filter
}

// visibleTransactions loads the caller-visible transaction set with no date
// window. This is the aggregation input for the metrics engine and the category
// breakdown; windowing is deliberately a listing-time concern only.
func (s *Service) visibleTransactions(ctx context.Context, caller *domain.User) ([]domain.Transaction, error) {
	filter := s.restrictVisibility(caller, store.TransactionFilter{})
	return s.repo.ListTransactions(ctx, filter)
}
