/**
 * @description
 * Model-backed intent classification. The conversation is forwarded to an
 * OpenAI-compatible chat completion endpoint with the three finance tools
 * declared; requested tool calls are executed locally through the executor
 * (so the permission gate still applies) and their results fed back for a
 * final natural-language reply.
 */

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wittybot-avi/aayatana-fin-mgr/internal/domain"
	"github.com/wittybot-avi/aayatana-fin-mgr/pkg/llmclient"
)

var llmTools = []llmclient.Tool{
	{
		Type: "function",
		Function: llmclient.ToolFunction{
			Name:        ToolGetBurnRate,
			Description: "Get the current cash balance, monthly burn rate and runway in months.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		},
	},
	{
		Type: "function",
		Function: llmclient.ToolFunction{
			Name:        ToolGetCategoryAnalysis,
			Description: "Get total outflow spending grouped by expense category.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		},
	},
	{
		Type: "function",
		Function: llmclient.ToolFunction{
			Name:        ToolLogTransaction,
			Description: "Record a financial transaction. Requires write access.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"type": {"type": "string", "enum": ["INFLOW", "OUTFLOW"]},
					"amount": {"type": "number"},
					"description": {"type": "string"},
					"vendor": {"type": "string"},
					"date": {"type": "string", "description": "YYYY-MM-DD; defaults to today"},
					"categoryName": {"type": "string"},
					"projectTag": {"type": "string"}
				},
				"required": ["amount", "description"]
			}`),
		},
	},
}

// LLMClassifier resolves intent with a chat completion model.
type LLMClassifier struct {
	client *llmclient.Client
}

func NewLLMClassifier(client *llmclient.Client) *LLMClassifier {
	return &LLMClassifier{client: client}
}

func (c *LLMClassifier) Reply(ctx context.Context, caller *domain.User, message string, history []AgentTurn, exec ToolExecutor) (*AgentReply, error) {
	messages := []llmclient.Message{{
		Role: "system",
		Content: fmt.Sprintf(
			"You are a finance assistant for a small business. You are speaking with %s. "+
				"Today's date is %s. Use the provided tools to answer questions about burn rate, "+
				"runway, cash balance and category spending, and to log transactions. "+
				"If a tool reports a permission error, relay it politely; never claim the action succeeded. "+
				"Amounts are in INR.",
			caller.Name, time.Now().Format("2006-01-02"),
		),
	}}
	for _, turn := range history {
		role := turn.Role
		if role != "assistant" {
			role = "user"
		}
		messages = append(messages, llmclient.Message{Role: role, Content: turn.Text})
	}
	messages = append(messages, llmclient.Message{Role: "user", Content: message})

	resp, err := c.client.CreateChatCompletion(ctx, messages, llmTools)
	if err != nil {
		return nil, err
	}

	assistant := resp.Choices[0].Message
	if len(assistant.ToolCalls) == 0 {
		return &AgentReply{Text: assistant.Content}, nil
	}

	// Execute the requested tools locally and hand the results back for the
	// final wording.
	messages = append(messages, assistant)
	calls := make([]ToolCall, 0, len(assistant.ToolCalls))
	for _, tc := range assistant.ToolCalls {
		args := map[string]interface{}{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("failed to decode tool arguments for %s: %w", tc.Function.Name, err)
			}
		}
		call := ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args}
		calls = append(calls, call)

		result, err := exec.Execute(ctx, call)
		if err != nil {
			return nil, err
		}
		resultJSON, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to encode tool result for %s: %w", tc.Function.Name, err)
		}
		messages = append(messages, llmclient.Message{
			Role:       "tool",
			ToolCallID: tc.ID,
			Content:    string(resultJSON),
		})
	}

	final, err := c.client.CreateChatCompletion(ctx, messages, llmTools)
	if err != nil {
		return nil, err
	}
	return &AgentReply{Text: final.Choices[0].Message.Content, ToolCalls: calls}, nil
}
