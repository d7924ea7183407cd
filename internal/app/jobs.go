/**
 * @description
 * Background jobs for grant bookkeeping. Reconciliation recomputes each
 * grant's utilization from its linked transactions and corrects drift; the
 * deadline job surfaces grants whose utilization deadline is approaching.
 *
 * @dependencies
 * - internal/store, pkg/rabbitmq: Data access and event publishing.
 * - github.com/shopspring/decimal: Exact utilization sums.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wittybot-avi/aayatana-fin-mgr/internal/store"
	"github.com/wittybot-avi/aayatana-fin-mgr/pkg/rabbitmq"
)

const jobTimeout = 2 * time.Minute

// Jobs holds the dependencies for the scheduled grant jobs.
type Jobs struct {
	repo     store.Repository
	events   rabbitmq.Publisher
	exchange string
	loc      *time.Location
	now      func() time.Time
}

func NewJobs(repo store.Repository, events rabbitmq.Publisher, loc *time.Location) *Jobs {
	return &Jobs{repo: repo, events: events, exchange: rabbitmq.FinanceEventsExchange, loc: loc, now: time.Now}
}

// SetEventExchange overrides the exchange job events publish to (EVENT_EXCHANGE).
func (j *Jobs) SetEventExchange(name string) {
	if name != "" {
		j.exchange = name
	}
}

// ReconcileGrantUtilization recomputes each grant's utilization as the sum of
// its linked transactions and corrects the stored figure when the two
// disagree. Drift is expected after transaction deletions.
func (j *Jobs) ReconcileGrantUtilization() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	grants, err := j.repo.ListGrants(ctx)
	if err != nil {
		log.Printf("level=error component=jobs job=grant_reconcile msg=\"failed to list grants\" err=%v", err)
		return
	}
	if len(grants) == 0 {
		return
	}

	txs, err := j.repo.ListTransactions(ctx, store.TransactionFilter{})
	if err != nil {
		log.Printf("level=error component=jobs job=grant_reconcile msg=\"failed to list transactions\" err=%v", err)
		return
	}

	sums := make(map[uuid.UUID]decimal.Decimal, len(grants))
	for _, tx := range txs {
		if tx.GrantID == nil {
			continue
		}
		sums[*tx.GrantID] = sums[*tx.GrantID].Add(tx.Amount)
	}

	corrected := 0
	for _, grant := range grants {
		recomputed := sums[grant.ID]
		if grant.AmountUtilized.Equal(recomputed) {
			continue
		}
		if err := j.repo.SetGrantUtilization(ctx, grant.ID, recomputed); err != nil {
			log.Printf("level=error component=jobs job=grant_reconcile msg=\"failed to correct utilization\" grant_id=%s err=%v", grant.ID, err)
			continue
		}
		corrected++
		log.Printf("level=warn component=jobs job=grant_reconcile msg=\"utilization drift corrected\" grant_id=%s stored=%s recomputed=%s",
			grant.ID, grant.AmountUtilized.String(), recomputed.String())
		if err := j.events.PublishGrantDriftEvent(ctx, j.exchange, rabbitmq.GrantDriftEvent{
			GrantID:    grant.ID,
			Stored:     grant.AmountUtilized.String(),
			Recomputed: recomputed.String(),
			Timestamp:  j.now(),
		}); err != nil {
			log.Printf("level=warn component=jobs job=grant_reconcile msg=\"drift event publish failed\" grant_id=%s err=%v", grant.ID, err)
		}
	}

	log.Printf("level=info component=jobs job=grant_reconcile msg=\"reconciliation complete\" grants=%d corrected=%d", len(grants), corrected)
}

// GrantDeadlineReminders publishes a reminder event for every grant whose
// deadline falls within the next 30 days.
func (j *Jobs) GrantDeadlineReminders() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	grants, err := j.repo.ListGrants(ctx)
	if err != nil {
		log.Printf("level=error component=jobs job=grant_deadlines msg=\"failed to list grants\" err=%v", err)
		return
	}

	today := j.now().In(j.loc).Format("2006-01-02")
	horizon := j.now().In(j.loc).AddDate(0, 0, 30).Format("2006-01-02")

	for _, grant := range grants {
		if grant.Deadline == "" || grant.Deadline < today || grant.Deadline > horizon {
			continue
		}
		log.Printf("level=info component=jobs job=grant_deadlines msg=\"grant deadline approaching\" grant_id=%s name=%q deadline=%s",
			grant.ID, grant.Name, grant.Deadline)
		if err := j.events.Publish(ctx, j.exchange, rabbitmq.RoutingGrantDeadlineDue, map[string]interface{}{
			"grant_id":         grant.ID,
			"name":             grant.Name,
			"deadline":         grant.Deadline,
			"total_sanctioned": grant.TotalSanctioned.String(),
			"amount_utilized":  grant.AmountUtilized.String(),
		}); err != nil {
			log.Printf("level=warn component=jobs job=grant_deadlines msg=\"reminder publish failed\" grant_id=%s err=%v", grant.ID, err)
		}
	}
}
