// Package llm provides the model client used by the coach.
package llm

import (
	"log/slog"
	"strings"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// BlockKind tags the variant held by a [ContentBlock].
type BlockKind int

const (
	// BlockText is a plain text fragment.
	BlockText BlockKind = iota

	// BlockToolUse is a tool invocation requested by the model.
	BlockToolUse

	// BlockToolResult carries the outcome of a tool invocation back to
	// the model, correlated by ToolCallID.
	BlockToolResult
)

func (k BlockKind) String() string {
	switch k {
	case BlockText:
		return "text"
	case BlockToolUse:
		return "tool_use"
	case BlockToolResult:
		return "tool_result"
	default:
		return "unknown"
	}
}

// ContentBlock is one element of a message body. Exactly one of Text,
// ToolUse or ToolResult is meaningful, selected by Kind.
type ContentBlock struct {
	Kind       BlockKind
	Text       string
	ToolUse    *ToolCall
	ToolResult *ToolResult
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string // provider-assigned correlation id
	Name      string
	Arguments map[string]any
}

// ToolResult is the textual outcome of one ToolCall.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Kind: BlockText, Text: text}
}

// ToolUseBlock builds a tool invocation block.
func ToolUseBlock(call ToolCall) ContentBlock {
	return ContentBlock{Kind: BlockToolUse, ToolUse: &call}
}

// ToolResultBlock builds a tool result block.
func ToolResultBlock(result ToolResult) ContentBlock {
	return ContentBlock{Kind: BlockToolResult, ToolResult: &result}
}

// Message is a chat message exchanged with the model.
type Message struct {
	Role    string
	Content []ContentBlock
}

// TextMessage builds a single-block text message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Content: []ContentBlock{TextBlock(text)}}
}

// ToolDefinition describes a callable tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	// InputSchema is a JSON Schema object describing the arguments.
	InputSchema map[string]any
}

// Request is a single model call.
type Request struct {
	Model     string
	System    string
	Tools     []ToolDefinition
	Messages  []Message
	MaxTokens int
}

// Response is the provider-neutral result of a model call. Content
// blocks keep the order the provider returned them in.
type Response struct {
	Model      string
	Content    []ContentBlock
	StopReason string

	InputTokens  int
	OutputTokens int
}

// Text concatenates every text block in order.
func (r *Response) Text() string {
	var sb strings.Builder
	for _, b := range r.Content {
		if b.Kind == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ToolCalls returns the tool invocations in the order requested.
func (r *Response) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, b := range r.Content {
		if b.Kind == BlockToolUse && b.ToolUse != nil {
			calls = append(calls, *b.ToolUse)
		}
	}
	return calls
}
