package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/rendis/influencer/pkg/schema"
)

// DefaultBaseURL is the chat-completions endpoint root used when none is configured.
const DefaultBaseURL = "https://api.openai.com/v1"

// ChatModel talks to an OpenAI-compatible chat-completions endpoint.
type ChatModel struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	retry   RetryPolicy
	logger  *slog.Logger
}

// ChatOption configures a ChatModel.
type ChatOption func(*ChatModel)

// WithBaseURL points the client at another compatible endpoint.
func WithBaseURL(u string) ChatOption {
	return func(m *ChatModel) { m.baseURL = strings.TrimRight(u, "/") }
}

// WithAPIKey sets the bearer token.
func WithAPIKey(key string) ChatOption {
	return func(m *ChatModel) { m.apiKey = key }
}

// WithModel sets the default model name; a request's Model wins over it.
func WithModel(name string) ChatOption {
	return func(m *ChatModel) { m.model = name }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) ChatOption {
	return func(m *ChatModel) { m.client = c }
}

// WithRetryPolicy replaces DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) ChatOption {
	return func(m *ChatModel) { m.retry = p }
}

// WithChatLogger sets the logger.
func WithChatLogger(l *slog.Logger) ChatOption {
	return func(m *ChatModel) { m.logger = l }
}

// NewChatModel creates a ChatModel.
func NewChatModel(opts ...ChatOption) *ChatModel {
	m := &ChatModel{
		baseURL: DefaultBaseURL,
		model:   DefaultModel,
		client:  &http.Client{Timeout: 2 * time.Minute},
		retry:   DefaultRetryPolicy,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Complete sends one turn, retrying transient failures per the retry policy.
func (m *ChatModel) Complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	body, err := json.Marshal(m.wireRequest(req))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "encode completion request").WithCause(err)
	}

	attempts := max(m.retry.MaxAttempts, 1)
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := ComputeBackoff(m.retry, attempt-1)
			m.logger.Warn("retrying model call", "attempt", attempt+1, "delay", delay, "error", lastErr)
			if err := WaitForBackoff(ctx, delay); err != nil {
				return nil, err
			}
		}
		comp, err := m.do(ctx, body)
		if err == nil {
			return comp, nil
		}
		lastErr = err
		if !IsRetryableError(err) {
			break
		}
	}
	return nil, lastErr
}

func (m *ChatModel) do(ctx context.Context, body []byte) (*Completion, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "build completion request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	res, err := m.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, statusError(res.StatusCode, raw)
	}

	var wire chatResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, schema.NewError(schema.ErrCodeBackend, "decode completion response").WithCause(err)
	}
	return wire.completion()
}

func statusError(status int, body []byte) error {
	msg := http.StatusText(status)
	// Compatible servers disagree on where the message lives.
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "error", "message", "detail"} {
			if r := gjson.GetBytes(body, path); r.Type == gjson.String && r.Str != "" {
				msg = r.Str
				break
			}
		}
	}

	code := schema.ErrCodeExecution
	switch {
	case status == http.StatusTooManyRequests:
		code = schema.ErrCodeRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		code = schema.ErrCodeTimeout
	case status >= 500:
		code = schema.ErrCodeBackend
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		code = schema.ErrCodeValidation
	}
	return schema.NewErrorf(code, "chat completion: %s", msg).
		WithDetails(map[string]any{"status": status})
}

// --- wire format ---

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Tools    []chatTool    `json:"tools,omitempty"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatToolSpec `json:"function"`
}

type chatToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

func (m *ChatModel) wireRequest(req *CompletionRequest) chatRequest {
	out := chatRequest{Model: req.Model}
	if out.Model == "" {
		out.Model = m.model
	}
	for _, msg := range req.Messages {
		wm := chatMessage{Role: msg.Role, ToolCallID: msg.ToolCallID}
		if msg.Role != RoleAssistant || msg.Content != "" || len(msg.ToolCalls) == 0 {
			content := msg.Content
			wm.Content = &content
		}
		for _, c := range msg.ToolCalls {
			args, _ := json.Marshal(c.Arguments)
			if c.Arguments == nil {
				args = []byte("{}")
			}
			wm.ToolCalls = append(wm.ToolCalls, chatToolCall{
				ID:       c.ID,
				Type:     "function",
				Function: chatFunction{Name: c.Name, Arguments: string(args)},
			})
		}
		out.Messages = append(out.Messages, wm)
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, chatTool{
			Type:     "function",
			Function: chatToolSpec{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}
	return out
}

func (r *chatResponse) completion() (*Completion, error) {
	if len(r.Choices) == 0 {
		return nil, schema.NewError(schema.ErrCodeBackend, "chat completion returned no choices")
	}
	choice := r.Choices[0]
	msg := Message{Role: RoleAssistant}
	if choice.Message.Content != nil {
		msg.Content = *choice.Message.Content
	}
	for _, c := range choice.Message.ToolCalls {
		args := map[string]any{}
		if strings.TrimSpace(c.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(c.Function.Arguments), &args); err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeExecution,
					"tool call %s has malformed arguments", c.Function.Name).WithCause(err)
			}
		}
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{ID: c.ID, Name: c.Function.Name, Arguments: args})
	}
	return &Completion{Message: msg, FinishReason: choice.FinishReason, Usage: r.Usage}, nil
}
