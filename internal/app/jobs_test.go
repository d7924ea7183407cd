package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wittybot-avi/aayatana-fin-mgr/internal/domain"
	"github.com/wittybot-avi/aayatana-fin-mgr/pkg/rabbitmq"
)

func TestReconcileGrantUtilizationCorrectsDrift(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	grant := &domain.Grant{
		ID:              uuid.New(),
		Name:            "Prototype Grant",
		TotalSanctioned: decimal.NewFromInt(500000),
	}
	if err := env.repo.CreateGrant(ctx, grant); err != nil {
		t.Fatalf("create grant: %v", err)
	}

	var linked []uuid.UUID
	for _, amount := range []int64{60000, 40000} {
		tx := &domain.Transaction{
			Date:       "2025-05-01",
			Type:       domain.TransactionOutflow,
			CategoryID: env.rdID,
			Amount:     decimal.NewFromInt(amount),
			GrantID:    &grant.ID,
			UserID:     env.writer.ID,
		}
		if _, err := env.repo.CreateTransaction(ctx, tx); err != nil {
			t.Fatalf("create transaction: %v", err)
		}
		linked = append(linked, tx.ID)
	}

	// Deleting a linked transaction leaves the stored figure stale.
	if err := env.repo.DeleteTransaction(ctx, linked[0]); err != nil {
		t.Fatalf("delete transaction: %v", err)
	}
	stale, err := env.repo.FindGrantByID(ctx, grant.ID)
	if err != nil {
		t.Fatalf("find grant: %v", err)
	}
	if !stale.AmountUtilized.Equal(decimal.NewFromInt(100000)) {
		t.Fatalf("expected stale utilization 100000, got %s", stale.AmountUtilized)
	}

	jobs := NewJobs(env.repo, &rabbitmq.EventProducerFallback{}, time.UTC)
	jobs.ReconcileGrantUtilization()

	fixed, err := env.repo.FindGrantByID(ctx, grant.ID)
	if err != nil {
		t.Fatalf("find grant: %v", err)
	}
	if !fixed.AmountUtilized.Equal(decimal.NewFromInt(40000)) {
		t.Fatalf("expected reconciled utilization 40000, got %s", fixed.AmountUtilized)
	}
}

func TestReconcileGrantUtilizationLeavesConsistentGrantsAlone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	grant := &domain.Grant{ID: uuid.New(), Name: "Consistent Grant"}
	if err := env.repo.CreateGrant(ctx, grant); err != nil {
		t.Fatalf("create grant: %v", err)
	}
	if _, err := env.repo.CreateTransaction(ctx, &domain.Transaction{
		Date:       "2025-05-01",
		Type:       domain.TransactionOutflow,
		CategoryID: env.rdID,
		Amount:     decimal.NewFromInt(25000),
		GrantID:    &grant.ID,
		UserID:     env.writer.ID,
	}); err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	jobs := NewJobs(env.repo, &rabbitmq.EventProducerFallback{}, time.UTC)
	jobs.ReconcileGrantUtilization()

	got, err := env.repo.FindGrantByID(ctx, grant.ID)
	if err != nil {
		t.Fatalf("find grant: %v", err)
	}
	if !got.AmountUtilized.Equal(decimal.NewFromInt(25000)) {
		t.Fatalf("expected utilization 25000, got %s", got.AmountUtilized)
	}

	// Rows linked to other grants never leak into this one.
	other := &domain.Grant{ID: uuid.New(), Name: "Other Grant"}
	if err := env.repo.CreateGrant(ctx, other); err != nil {
		t.Fatalf("create grant: %v", err)
	}
	if _, err := env.repo.CreateTransaction(ctx, &domain.Transaction{
		Date:       "2025-05-02",
		Type:       domain.TransactionOutflow,
		CategoryID: env.rdID,
		Amount:     decimal.NewFromInt(900000),
		GrantID:    &other.ID,
		UserID:     env.writer.ID,
	}); err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	jobs.ReconcileGrantUtilization()
	got, err = env.repo.FindGrantByID(ctx, grant.ID)
	if err != nil {
		t.Fatalf("find grant: %v", err)
	}
	if !got.AmountUtilized.Equal(decimal.NewFromInt(25000)) {
		t.Fatalf("another grant's rows must not count here, got %s", got.AmountUtilized)
	}
}
