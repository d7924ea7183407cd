/**
 * @description
 * The agent tool bridge. A conversational message is classified into at most
 * one of three domain operations (getBurnRate, getCategoryAnalysis,
 * logTransaction), executed against the same service methods the HTTP surface
 * uses, under the same permission constraints. Classification is pluggable:
 * the deterministic keyword matcher is the default and the test implementation,
 * while the generative classifier calls an OpenAI-compatible model with the
 * same three tool signatures.
 *
 * The permission gate runs inside the executor, so no classifier, keyword or
 * model-backed, can perform a write for a read-only caller.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wittybot-avi/aayatana-fin-mgr/internal/domain"
)

// Tool names shared by every classifier implementation.
const (
	ToolGetBurnRate         = "getBurnRate"
	ToolGetCategoryAnalysis = "getCategoryAnalysis"
	ToolLogTransaction      = "logTransaction"
)

const agentErrorReply = "I encountered an error connecting to the intelligence layer. Please try again."

// AgentTurn is one prior exchange in the conversation.
type AgentTurn struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}

// ToolCall is a structured invocation of one domain operation, surfaced to the
// UI for transparency.
type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// AgentReply is the bridge's response: the conversational text plus the tools
// that were invoked while producing it.
type AgentReply struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"toolCalls"`
}

// ToolExecutor executes a single tool call on behalf of the conversing user.
type ToolExecutor interface {
	Execute(ctx context.Context, call ToolCall) (interface{}, error)
}

// IntentClassifier turns a message into a reply, invoking tools through the
// executor as needed. Implementations must treat a tool result carrying
// status "error" as a declined action, never as a success.
type IntentClassifier interface {
	Reply(ctx context.Context, caller *domain.User, message string, history []AgentTurn, exec ToolExecutor) (*AgentReply, error)
}

// AgentMessage is the bridge entry point. Upstream classifier failures degrade
// to a fixed conversational reply instead of propagating.
func (s *Service) AgentMessage(ctx context.Context, caller *domain.User, message string, history []AgentTurn) (*AgentReply, error) {
	if strings.TrimSpace(message) == "" {
		return nil, invalid("message", "must not be empty")
	}

	if s.agentLimiter != nil && s.agentLimitPerMin > 0 {
		count, _, err := s.agentLimiter.ConsumeRateLimit(ctx, "agent", caller.ID.String(), s.agentLimitPerMin, time.Minute)
		if err != nil {
			// Fail open: a limiter outage must not take the agent down.
			log.Printf("level=warn component=agent msg=\"rate limiter unavailable\" err=%v", err)
		} else if count > s.agentLimitPerMin {
			return nil, ErrAgentRateLimited
		}
	}

	exec := &serviceToolExecutor{service: s, caller: caller}
	reply, err := s.classifier.Reply(ctx, caller, message, history, exec)
	if err != nil {
		log.Printf("level=warn component=agent msg=\"classifier failed; degrading\" user_id=%s err=%v", caller.ID, err)
		return &AgentReply{Text: agentErrorReply, ToolCalls: []ToolCall{}}, nil
	}
	if reply.ToolCalls == nil {
		reply.ToolCalls = []ToolCall{}
	}
	return reply, nil
}

// serviceToolExecutor runs tool calls against the service under the caller's
// permissions.
type serviceToolExecutor struct {
	service *Service
	caller  *domain.User
}

func (e *serviceToolExecutor) Execute(ctx context.Context, call ToolCall) (interface{}, error) {
	switch call.Name {
	case ToolGetBurnRate:
		// Reads are always allowed; row-level security already scopes them.
		return e.service.DashboardMetrics(ctx, e.caller)
	case ToolGetCategoryAnalysis:
		breakdown, err := e.service.CategoryBreakdown(ctx, e.caller)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"breakdown": breakdown}, nil
	case ToolLogTransaction:
		return e.logTransaction(ctx, call.Args)
	default:
		return nil, fmt.Errorf("unknown tool %q", call.Name)
	}
}

func (e *serviceToolExecutor) logTransaction(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	// The gate: a read-only caller gets a structured denial, never a write.
	if !e.caller.HasPermission(domain.PermEditTransactions) {
		return map[string]interface{}{
			"status":  "error",
			"message": "Permission denied. You have read-only access.",
		}, nil
	}

	req := domain.CreateTransactionRequest{
		Type:        strings.ToUpper(argString(args, "type")),
		Description: argString(args, "description"),
		Vendor:      argString(args, "vendor"),
		Date:        argString(args, "date"),
		ProjectTag:  argString(args, "projectTag"),
		Mode:        domain.ModeOther,
		Amount:      argAmount(args, "amount"),
	}
	if req.Type == "" {
		req.Type = domain.TransactionOutflow
	}
	if req.Vendor == "" {
		req.Vendor = "Unknown"
	}

	categoryID, err := e.service.resolveCategory(ctx, argString(args, "categoryName"))
	if err != nil {
		return nil, err
	}
	req.CategoryID = categoryID

	tx, err := e.service.CreateTransaction(ctx, e.caller, req)
	if err != nil {
		// Validation failures are part of the conversation, not upstream
		// outages: report the failing field as a declined tool result.
		var verr *ValidationError
		if errors.As(err, &verr) {
			return map[string]interface{}{
				"status":  "error",
				"message": fmt.Sprintf("Invalid %s: %s.", verr.Field, verr.Reason),
			}, nil
		}
		return nil, err
	}
	return map[string]interface{}{
		"status":  "success",
		"id":      tx.ID,
		"message": fmt.Sprintf("Transaction logged successfully: %s for %s", tx.Description, tx.Amount.String()),
	}, nil
}

// resolveCategory maps a free-text category name onto the chart of accounts by
// case-insensitive substring match, falling back to the first category.
func (s *Service) resolveCategory(ctx context.Context, name string) (uuid.UUID, error) {
	cats, err := s.repo.ListCategories(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	if len(cats) == 0 {
		return uuid.Nil, fmt.Errorf("chart of accounts is empty")
	}
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle != "" {
		for _, c := range cats {
			if strings.Contains(strings.ToLower(c.Category), needle) {
				return c.ID, nil
			}
		}
	}
	return cats[0].ID, nil
}

func argString(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argAmount(args map[string]interface{}, key string) decimal.Decimal {
	switch v := args[key].(type) {
	case float64:
		return decimal.NewFromFloat(v)
	case int:
		return decimal.NewFromInt(int64(v))
	case int64:
		return decimal.NewFromInt(v)
	case string:
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	case decimal.Decimal:
		return v
	}
	return decimal.Zero
}

// --- Keyword classifier ---

var amountPattern = regexp.MustCompile(`\d+`)

// KeywordClassifier is the deterministic intent matcher. Keyword precedence is
// fixed: burn/runway/cash, then breakdown/spend/category, then
// spent/log/expense; anything else gets a help reply with no tool call.
type KeywordClassifier struct{}

func NewKeywordClassifier() *KeywordClassifier { return &KeywordClassifier{} }

func (c *KeywordClassifier) Reply(ctx context.Context, caller *domain.User, message string, history []AgentTurn, exec ToolExecutor) (*AgentReply, error) {
	lower := strings.ToLower(message)

	switch {
	case containsAny(lower, "burn", "runway", "cash"):
		call := newToolCall(ToolGetBurnRate, map[string]interface{}{})
		result, err := exec.Execute(ctx, call)
		if err != nil {
			return nil, err
		}
		metrics, ok := result.(*domain.DashboardMetrics)
		if !ok {
			return nil, fmt.Errorf("unexpected %s result type %T", ToolGetBurnRate, result)
		}
		text := fmt.Sprintf(
			"Current cash balance is %s. Monthly burn is %s, which gives about %s months of runway.",
			metrics.CurrentCashBalance.StringFixed(2),
			metrics.MonthlyBurn.StringFixed(2),
			metrics.RunwayMonths.StringFixed(1),
		)
		return &AgentReply{Text: text, ToolCalls: []ToolCall{call}}, nil

	case containsAny(lower, "breakdown", "spend", "category"):
		call := newToolCall(ToolGetCategoryAnalysis, map[string]interface{}{})
		result, err := exec.Execute(ctx, call)
		if err != nil {
			return nil, err
		}
		return &AgentReply{Text: formatBreakdown(result), ToolCalls: []ToolCall{call}}, nil

	case containsAny(lower, "spent", "log", "expense"):
		amount := 0
		if m := amountPattern.FindString(message); m != "" {
			amount, _ = strconv.Atoi(m)
		}
		call := newToolCall(ToolLogTransaction, map[string]interface{}{
			"type":        domain.TransactionOutflow,
			"amount":      float64(amount),
			"description": message,
		})
		result, err := exec.Execute(ctx, call)
		if err != nil {
			return nil, err
		}
		return &AgentReply{Text: formatToolOutcome(result), ToolCalls: []ToolCall{call}}, nil

	default:
		return &AgentReply{
			Text: "I can help you track expenses, check burn rate, or analyze spending. What would you like to do?",
		}, nil
	}
}

func newToolCall(name string, args map[string]interface{}) ToolCall {
	return ToolCall{ID: "call_" + uuid.NewString()[:8], Name: name, Args: args}
}

func containsAny(s string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func formatBreakdown(result interface{}) string {
	payload, ok := result.(map[string]interface{})
	if !ok {
		return "Here is the spending breakdown."
	}
	totals, ok := payload["breakdown"].([]domain.CategoryTotal)
	if !ok || len(totals) == 0 {
		return "There is no outflow spending recorded yet."
	}
	sorted := append([]domain.CategoryTotal(nil), totals...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value.GreaterThan(sorted[j].Value) })

	parts := make([]string, 0, len(sorted))
	for _, t := range sorted {
		parts = append(parts, fmt.Sprintf("%s %s", t.Name, t.Value.StringFixed(2)))
	}
	return "Spending by category: " + strings.Join(parts, ", ") + "."
}

// formatToolOutcome renders a logTransaction result, preserving the declined
// wording when the tool reported a permission error.
func formatToolOutcome(result interface{}) string {
	payload, ok := result.(map[string]interface{})
	if !ok {
		return "Done."
	}
	msg, _ := payload["message"].(string)
	if status, _ := payload["status"].(string); status == "error" {
		if msg == "" {
			msg = "That action was declined."
		}
		return msg
	}
	if msg == "" {
		msg = "Transaction logged successfully."
	}
	return msg
}
