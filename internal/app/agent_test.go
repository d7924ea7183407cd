package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wittybot-avi/aayatana-fin-mgr/internal/domain"
	"github.com/wittybot-avi/aayatana-fin-mgr/internal/store"
)

func seedLedger(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()
	rows := []struct {
		date, txType string
		amount       int64
	}{
		{"2025-04-05", domain.TransactionInflow, 5000000},
		{"2025-05-01", domain.TransactionOutflow, 300000},
		{"2025-06-01", domain.TransactionOutflow, 150000},
	}
	for _, row := range rows {
		if _, err := env.repo.CreateTransaction(ctx, &domain.Transaction{
			Date:       row.date,
			Type:       row.txType,
			CategoryID: env.rdID,
			Amount:     decimal.NewFromInt(row.amount),
			UserID:     env.writer.ID,
		}); err != nil {
			t.Fatalf("seed transaction: %v", err)
		}
	}
}

func TestAgentBurnRateQueryForReadOnlyUser(t *testing.T) {
	env := newTestEnv(t)
	seedLedger(t, env)

	reply, err := env.svc.AgentMessage(context.Background(), env.reader, "What's our burn rate?", nil)
	if err != nil {
		t.Fatalf("agent message: %v", err)
	}
	if len(reply.ToolCalls) != 1 || reply.ToolCalls[0].Name != ToolGetBurnRate {
		t.Fatalf("expected one getBurnRate call, got %+v", reply.ToolCalls)
	}
	if !strings.Contains(reply.Text, "runway") {
		t.Fatalf("expected runway in reply, got %q", reply.Text)
	}
	// (5000000 - 450000) / (450000 / 3)
	if !strings.Contains(reply.Text, "150000.00") {
		t.Fatalf("expected monthly burn 150000.00 in reply, got %q", reply.Text)
	}
}

func TestAgentLogDeniedForReadOnlyUser(t *testing.T) {
	env := newTestEnv(t)
	before := env.ledgerSize(t)

	reply, err := env.svc.AgentMessage(context.Background(), env.reader, "I spent 5000 on travel", nil)
	if err != nil {
		t.Fatalf("agent message: %v", err)
	}
	if len(reply.ToolCalls) != 1 || reply.ToolCalls[0].Name != ToolLogTransaction {
		t.Fatalf("expected one logTransaction call, got %+v", reply.ToolCalls)
	}
	if !strings.Contains(reply.Text, "Permission denied") || !strings.Contains(reply.Text, "read-only") {
		t.Fatalf("expected a read-only denial, got %q", reply.Text)
	}
	if strings.Contains(reply.Text, "success") {
		t.Fatalf("a denied write must never read like a success: %q", reply.Text)
	}
	if got := env.ledgerSize(t); got != before {
		t.Fatalf("ledger must be untouched after a denied write: %d -> %d", before, got)
	}
}

func TestAgentLogCreatesTransaction(t *testing.T) {
	env := newTestEnv(t)

	reply, err := env.svc.AgentMessage(context.Background(), env.writer, "Log 1200 for AWS hosting", nil)
	if err != nil {
		t.Fatalf("agent message: %v", err)
	}
	if !strings.Contains(reply.Text, "Transaction logged successfully") {
		t.Fatalf("expected success wording, got %q", reply.Text)
	}

	txs, err := env.repo.ListTransactions(context.Background(), store.TransactionFilter{Type: domain.TransactionOutflow})
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected one logged outflow, got %d", len(txs))
	}
	tx := txs[0]
	if !tx.Amount.Equal(decimal.NewFromInt(1200)) {
		t.Fatalf("expected amount 1200, got %s", tx.Amount)
	}
	if tx.UserID != env.writer.ID {
		t.Fatal("logged transaction must be attributed to the conversing user")
	}
	if tx.Date != "2025-06-15" {
		t.Fatalf("expected the pinned current date, got %s", tx.Date)
	}
	if tx.Mode != domain.ModeOther {
		t.Fatalf("expected mode Other, got %s", tx.Mode)
	}
}

func TestAgentLogWithoutAmountReportsInvalidField(t *testing.T) {
	env := newTestEnv(t)
	before := env.ledgerSize(t)

	reply, err := env.svc.AgentMessage(context.Background(), env.writer, "please log the taxi expense", nil)
	if err != nil {
		t.Fatalf("agent message: %v", err)
	}
	if len(reply.ToolCalls) != 1 || reply.ToolCalls[0].Name != ToolLogTransaction {
		t.Fatalf("expected one logTransaction call, got %+v", reply.ToolCalls)
	}
	if !strings.Contains(reply.Text, "Invalid amount") {
		t.Fatalf("expected the failing field in the reply, got %q", reply.Text)
	}
	if reply.Text == agentErrorReply {
		t.Fatal("a validation failure must not read like an upstream outage")
	}
	if got := env.ledgerSize(t); got != before {
		t.Fatalf("ledger must be untouched after a rejected write: %d -> %d", before, got)
	}
}

func TestAgentKeywordPrecedence(t *testing.T) {
	env := newTestEnv(t)
	seedLedger(t, env)

	tests := []struct {
		name     string
		message  string
		wantTool string
	}{
		{"cash beats log", "log our cash position", ToolGetBurnRate},
		{"spend beats log", "log spending by area", ToolGetCategoryAnalysis},
		{"breakdown alone", "show me the breakdown", ToolGetCategoryAnalysis},
		{"expense alone", "expense 400 for couriers", ToolLogTransaction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := env.svc.AgentMessage(context.Background(), env.writer, tt.message, nil)
			if err != nil {
				t.Fatalf("agent message: %v", err)
			}
			if len(reply.ToolCalls) != 1 || reply.ToolCalls[0].Name != tt.wantTool {
				t.Fatalf("expected %s, got %+v", tt.wantTool, reply.ToolCalls)
			}
		})
	}
}

func TestAgentHelpFallback(t *testing.T) {
	env := newTestEnv(t)

	reply, err := env.svc.AgentMessage(context.Background(), env.reader, "good morning", nil)
	if err != nil {
		t.Fatalf("agent message: %v", err)
	}
	if len(reply.ToolCalls) != 0 {
		t.Fatalf("small talk must not invoke tools, got %+v", reply.ToolCalls)
	}
	if reply.Text == "" {
		t.Fatal("help reply must not be empty")
	}
}

func TestAgentEmptyMessageRejected(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.AgentMessage(context.Background(), env.reader, "   ", nil)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

type countingLimiter struct {
	count int
}

func (l *countingLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	l.count++
	return l.count, 1, nil
}

func TestAgentRateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.svc.SetAgentRateLimiter(&countingLimiter{}, 2)

	for i := 0; i < 2; i++ {
		if _, err := env.svc.AgentMessage(context.Background(), env.reader, "hello", nil); err != nil {
			t.Fatalf("request %d should pass the limiter: %v", i+1, err)
		}
	}
	_, err := env.svc.AgentMessage(context.Background(), env.reader, "hello", nil)
	if !errors.Is(err, ErrAgentRateLimited) {
		t.Fatalf("expected ErrAgentRateLimited, got %v", err)
	}
}

type failingClassifier struct{}

func (failingClassifier) Reply(ctx context.Context, caller *domain.User, message string, history []AgentTurn, exec ToolExecutor) (*AgentReply, error) {
	return nil, errors.New("upstream unavailable")
}

func TestAgentClassifierFailureDegrades(t *testing.T) {
	env := newTestEnv(t)
	env.svc.SetIntentClassifier(failingClassifier{})

	reply, err := env.svc.AgentMessage(context.Background(), env.reader, "What's our burn rate?", nil)
	if err != nil {
		t.Fatalf("classifier failures must not surface as errors: %v", err)
	}
	if reply.Text != agentErrorReply {
		t.Fatalf("expected the fixed degradation reply, got %q", reply.Text)
	}
	if len(reply.ToolCalls) != 0 {
		t.Fatalf("degraded reply must carry no tool calls, got %+v", reply.ToolCalls)
	}
}

func TestResolveCategorySubstringMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"case-insensitive match", "travel", "Travel"},
		{"partial match", "rav", "Travel"},
		{"unknown falls back to first", "groceries", "R&D"},
		{"empty falls back to first", "", "R&D"},
	}

	cats, err := env.repo.ListCategories(ctx)
	if err != nil {
		t.Fatalf("list categories: %v", err)
	}
	names := map[string]string{}
	for _, c := range cats {
		names[c.ID.String()] = c.Category
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := env.svc.resolveCategory(ctx, tt.input)
			if err != nil {
				t.Fatalf("resolve category: %v", err)
			}
			if names[id.String()] != tt.want {
				t.Fatalf("expected category %q, got %q", tt.want, names[id.String()])
			}
		})
	}
}
