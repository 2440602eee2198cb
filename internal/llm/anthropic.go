package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nugget/coach-ai-agent/internal/httpkit"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"

	defaultMaxTokens = 1024
)

// ErrInvalidAPIKey is returned by Ping when the provider rejects the key.
var ErrInvalidAPIKey = errors.New("invalid API key")

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	endpoint   string
	pingModel  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicClient creates a new Anthropic client. pingModel is the
// model used for the reachability probe in [AnthropicClient.Ping].
func NewAnthropicClient(apiKey, pingModel string, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	// Long prompts with a full tool catalog can take a while before the
	// first header arrives.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &AnthropicClient{
		apiKey:    apiKey,
		endpoint:  anthropicAPIURL,
		pingModel: pingModel,
		logger:    logger.With("provider", "anthropic"),
		httpClient: httpkit.NewClient(
			// Deadlines come from the caller's context.
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

// Anthropic request/response types

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"` // for tool_result
	IsError   bool   `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Chat sends a single non-streaming Messages API request.
func (c *AnthropicClient) Chat(ctx context.Context, req *Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	areq := anthropicRequest{
		Model:     req.Model,
		Messages:  convertToAnthropic(req.Messages),
		System:    req.System,
		MaxTokens: maxTokens,
		Tools:     convertToolsToAnthropic(req.Tools),
	}

	c.logger.Debug("preparing request",
		"model", areq.Model,
		"messages", len(areq.Messages),
		"tools", len(areq.Tools),
		"system_len", len(areq.System),
	)

	jsonData, err := json.Marshal(areq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	resp, err := c.post(ctx, jsonData)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("anthropic API error %d: %s", resp.StatusCode, errBody)
	}

	var aresp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&aresp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	result := convertFromAnthropic(&aresp)

	c.logger.Debug("response received",
		"model", result.Model,
		"stop_reason", result.StopReason,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.ToolCalls()),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", result.Text())

	return result, nil
}

// Ping checks if the Anthropic API is reachable and the key is accepted.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	// There is no dedicated health endpoint; a one-token request does.
	jsonData, err := json.Marshal(anthropicRequest{
		Model:     c.pingModel,
		Messages:  []anthropicMessage{{Role: RoleUser, Content: []anthropicContent{{Type: "text", Text: "ping"}}}},
		MaxTokens: 1,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.post(ctx, jsonData)
	if err != nil {
		return err
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrInvalidAPIKey
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status from Anthropic API: %d", resp.StatusCode)
	}
	return nil
}

func (c *AnthropicClient) post(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// convertToAnthropic maps content blocks one to one onto the wire format.
// Tool invocations with no id get a synthetic one so results still pair.
func convertToAnthropic(messages []Message) []anthropicMessage {
	result := make([]anthropicMessage, 0, len(messages))
	for _, msg := range messages {
		blocks := make([]anthropicContent, 0, len(msg.Content))
		for i, b := range msg.Content {
			switch b.Kind {
			case BlockText:
				if b.Text == "" {
					continue
				}
				blocks = append(blocks, anthropicContent{Type: "text", Text: b.Text})
			case BlockToolUse:
				if b.ToolUse == nil {
					continue
				}
				args := b.ToolUse.Arguments
				if args == nil {
					args = map[string]any{}
				}
				id := b.ToolUse.ID
				if id == "" {
					id = fmt.Sprintf("toolu_%s_%d", b.ToolUse.Name, i)
				}
				blocks = append(blocks, anthropicContent{
					Type:  "tool_use",
					ID:    id,
					Name:  b.ToolUse.Name,
					Input: args,
				})
			case BlockToolResult:
				if b.ToolResult == nil {
					continue
				}
				blocks = append(blocks, anthropicContent{
					Type:      "tool_result",
					ToolUseID: b.ToolResult.ToolCallID,
					Content:   b.ToolResult.Content,
					IsError:   b.ToolResult.IsError,
				})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		result = append(result, anthropicMessage{Role: msg.Role, Content: blocks})
	}
	return result
}

// convertToolsToAnthropic converts tool definitions to Anthropic format.
func convertToolsToAnthropic(tools []ToolDefinition) []anthropicTool {
	if len(tools) == 0 {
		return nil
	}

	result := make([]anthropicTool, 0, len(tools))
	for _, tool := range tools {
		var schema any = tool.InputSchema
		if tool.InputSchema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result = append(result, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return result
}

// convertFromAnthropic converts an Anthropic response to our internal
// format, preserving block order.
func convertFromAnthropic(resp *anthropicResponse) *Response {
	out := &Response{
		Model:        resp.Model,
		StopReason:   resp.StopReason,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content = append(out.Content, TextBlock(block.Text))
		case "tool_use":
			args, ok := block.Input.(map[string]any)
			if !ok || args == nil {
				args = map[string]any{}
			}
			out.Content = append(out.Content, ToolUseBlock(ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			}))
		}
	}
	return out
}
