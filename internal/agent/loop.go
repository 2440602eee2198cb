// Package agent runs the coach's tool-calling conversation loop.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/coach-ai-agent/internal/llm"
	"github.com/nugget/coach-ai-agent/internal/prompts"
	"github.com/nugget/coach-ai-agent/internal/tools"
)

const (
	// DefaultMaxRounds caps model calls per turn.
	DefaultMaxRounds = 5

	// DefaultMaxParallelTools bounds concurrent tool executions per round.
	DefaultMaxParallelTools = 4

	// DefaultRetrievalLimit is how many passages a turn may retrieve.
	DefaultRetrievalLimit = 5
)

// Turn is one prior message of the conversation.
type Turn struct {
	Role    string // user or assistant
	Content string
}

// ToolDispatcher exposes the tool catalog and runs tools.
type ToolDispatcher interface {
	Definitions() []llm.ToolDefinition
	Dispatch(ctx context.Context, name string, args map[string]any, userID int64) tools.Result
}

// Config tunes the loop.
type Config struct {
	Model            string
	MaxTokens        int
	MaxRounds        int
	MaxParallelTools int
}

// Loop is the coach's conversation engine. A Loop is safe for concurrent
// use; each Run owns its own message list.
type Loop struct {
	llm     llm.Client
	tools   ToolDispatcher
	context ContextProvider
	cfg     Config
	logger  *slog.Logger
}

// NewLoop creates a loop. provider may be nil.
func NewLoop(client llm.Client, dispatcher ToolDispatcher, provider ContextProvider, cfg Config, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.MaxParallelTools <= 0 {
		cfg.MaxParallelTools = DefaultMaxParallelTools
	}
	return &Loop{
		llm:     client,
		tools:   dispatcher,
		context: provider,
		cfg:     cfg,
		logger:  logger.With("component", "agent"),
	}
}

// Run answers message given the prior history. Tool requests are
// executed and fed back for up to MaxRounds model calls. The reply is
// never empty. Only model failures are returned as errors.
func (l *Loop) Run(ctx context.Context, userID int64, history []Turn, message string) (string, error) {
	start := time.Now()
	messages := buildMessages(history, message)
	system := prompts.CoachSystemPrompt(l.gatherContext(ctx, userID, message))
	defs := l.tools.Definitions()

	l.logger.Info("agent loop started",
		"user_id", userID,
		"history", len(history),
		"system_len", len(system),
	)

	var lastText string
	for round := 0; round < l.cfg.MaxRounds; round++ {
		resp, err := l.llm.Chat(ctx, &llm.Request{
			Model:     l.cfg.Model,
			System:    system,
			Tools:     defs,
			Messages:  messages,
			MaxTokens: l.cfg.MaxTokens,
		})
		if err != nil {
			return "", fmt.Errorf("model call (round %d): %w", round+1, err)
		}

		text, calls := partition(resp.Content)
		if t := strings.TrimSpace(text); t != "" {
			lastText = t
		}

		if len(calls) == 0 {
			l.logger.Info("agent loop completed",
				"user_id", userID,
				"rounds", round+1,
				"elapsed", time.Since(start),
			)
			return orFallback(text), nil
		}

		assistant := llm.Message{Role: llm.RoleAssistant}
		if text != "" {
			assistant.Content = append(assistant.Content, llm.TextBlock(text))
		}
		for _, c := range calls {
			assistant.Content = append(assistant.Content, llm.ToolUseBlock(c))
		}
		messages = append(messages, assistant)

		results := l.dispatch(ctx, userID, calls)
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: results})

		l.logger.Debug("round complete", "round", round+1, "tool_calls", len(calls))
	}

	l.logger.Warn("round limit reached",
		"user_id", userID,
		"rounds", l.cfg.MaxRounds,
		"has_text", lastText != "",
	)
	return orFallback(lastText), nil
}

func (l *Loop) gatherContext(ctx context.Context, userID int64, message string) string {
	if l.context == nil {
		return ""
	}
	extra, err := l.context.GetContext(ctx, userID, message)
	if err != nil {
		l.logger.Debug("context unavailable", "error", err)
		return ""
	}
	return extra
}

// dispatch runs one round's tool calls concurrently and returns their
// results in request order.
func (l *Loop) dispatch(ctx context.Context, userID int64, calls []llm.ToolCall) []llm.ContentBlock {
	results := make([]llm.ContentBlock, len(calls))

	var g errgroup.Group
	g.SetLimit(l.cfg.MaxParallelTools)
	for i, c := range calls {
		g.Go(func() error {
			res := l.tools.Dispatch(ctx, c.Name, c.Arguments, userID)
			results[i] = llm.ToolResultBlock(llm.ToolResult{
				ToolCallID: c.ID,
				Content:    res.Text,
				IsError:    res.Err,
			})
			return nil
		})
	}
	_ = g.Wait() // dispatch never fails

	return results
}

// buildMessages normalizes history into user/assistant text messages,
// dropping empty turns, and appends the new message.
func buildMessages(history []Turn, message string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, h := range history {
		if strings.TrimSpace(h.Content) == "" {
			continue
		}
		role := llm.RoleAssistant
		if h.Role == llm.RoleUser {
			role = llm.RoleUser
		}
		msgs = append(msgs, llm.TextMessage(role, h.Content))
	}
	if strings.TrimSpace(message) != "" {
		msgs = append(msgs, llm.TextMessage(llm.RoleUser, message))
	}
	return msgs
}

// partition splits a response into its concatenated text and its tool
// requests. Missing arguments become an empty map.
func partition(blocks []llm.ContentBlock) (string, []llm.ToolCall) {
	var (
		sb    strings.Builder
		calls []llm.ToolCall
	)
	for _, b := range blocks {
		switch b.Kind {
		case llm.BlockText:
			sb.WriteString(b.Text)
		case llm.BlockToolUse:
			if b.ToolUse == nil {
				continue
			}
			c := *b.ToolUse
			if c.Arguments == nil {
				c.Arguments = map[string]any{}
			}
			calls = append(calls, c)
		}
	}
	return sb.String(), calls
}

func orFallback(text string) string {
	if t := strings.TrimSpace(text); t != "" {
		return t
	}
	return prompts.FallbackReply
}
