package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nugget/coach-ai-agent/internal/prompts"
	"github.com/nugget/coach-ai-agent/internal/store"
)

// ContextProvider supplies extra system-prompt context for a turn. An
// error only drops that provider's contribution.
type ContextProvider interface {
	GetContext(ctx context.Context, userID int64, message string) (string, error)
}

// CompositeContextProvider combines multiple context providers.
// Each provider's output is separated by a blank line.
type CompositeContextProvider struct {
	providers []ContextProvider
	logger    *slog.Logger
}

// NewCompositeContextProvider creates a composite from multiple providers.
func NewCompositeContextProvider(logger *slog.Logger, providers ...ContextProvider) *CompositeContextProvider {
	if logger == nil {
		logger = slog.Default()
	}
	c := &CompositeContextProvider{logger: logger}
	for _, p := range providers {
		c.Add(p)
	}
	return c
}

// Add appends a provider to the composite.
func (c *CompositeContextProvider) Add(provider ContextProvider) {
	if provider != nil {
		c.providers = append(c.providers, provider)
	}
}

// GetContext calls all providers in order and combines their output.
// It never fails.
func (c *CompositeContextProvider) GetContext(ctx context.Context, userID int64, message string) (string, error) {
	var parts []string
	for _, p := range c.providers {
		content, err := p.GetContext(ctx, userID, message)
		if err != nil {
			c.logger.Debug("context provider failed", "provider", providerName(p), "error", err)
			continue
		}
		if content = strings.TrimSpace(content); content != "" {
			parts = append(parts, content)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func providerName(p ContextProvider) string {
	switch p.(type) {
	case *RetrievalProvider:
		return "retrieval"
	case *PreferencesProvider:
		return "preferences"
	default:
		return "other"
	}
}

// Retriever finds reference material relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) string
}

// RetrievalProvider adds knowledge-base passages relevant to the
// incoming message.
type RetrievalProvider struct {
	retriever Retriever
	limit     int
}

// NewRetrievalProvider creates a provider returning up to limit passages.
func NewRetrievalProvider(r Retriever, limit int) *RetrievalProvider {
	return &RetrievalProvider{retriever: r, limit: limit}
}

// GetContext implements [ContextProvider].
func (p *RetrievalProvider) GetContext(ctx context.Context, _ int64, message string) (string, error) {
	return p.retriever.Retrieve(ctx, message, p.limit), nil
}

// PreferencesProvider adds the user's saved rules and preferences so
// they steer every reply.
type PreferencesProvider struct {
	store *store.Store
}

// NewPreferencesProvider creates a provider reading from st.
func NewPreferencesProvider(st *store.Store) *PreferencesProvider {
	return &PreferencesProvider{store: st}
}

// GetContext implements [ContextProvider].
func (p *PreferencesProvider) GetContext(_ context.Context, userID int64, _ string) (string, error) {
	prefs, err := p.store.Preferences(userID)
	if err != nil {
		return "", err
	}
	view := make([]prompts.Preference, len(prefs))
	for i, pr := range prefs {
		view[i] = prompts.Preference{Kind: pr.Kind, Content: pr.Content}
	}
	return prompts.PreferencesContext(view), nil
}
