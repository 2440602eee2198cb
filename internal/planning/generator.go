// Package planning generates multi-week training plans with the model
// and stores them as the user's active plan.
package planning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/coach-ai-agent/internal/llm"
	"github.com/nugget/coach-ai-agent/internal/prompts"
	"github.com/nugget/coach-ai-agent/internal/store"
)

const (
	// RetrievalLimit is how many reference passages seed a plan.
	RetrievalLimit = 8

	// MaxTokens leaves room for a long multi-week JSON answer.
	MaxTokens = 8192
)

// User-facing outcomes that are not errors.
const (
	replyParseFailed = "No pude generar el plan (error al parsear). Intenta de nuevo."
	replyEmptyPlan   = "No pude generar el plan. Intenta de nuevo."
)

// Retriever finds reference material for the plan prompt.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) string
}

// Config tunes plan generation.
type Config struct {
	Model string
	Weeks int
}

// Generator builds and saves new plans.
type Generator struct {
	llm       llm.Client
	retriever Retriever
	store     *store.Store
	cfg       Config
	now       func() time.Time
	logger    *slog.Logger
}

// NewGenerator creates a generator. retriever may be nil.
func NewGenerator(client llm.Client, retriever Retriever, st *store.Store, cfg Config, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Weeks <= 0 {
		cfg.Weeks = 20
	}
	return &Generator{
		llm:       client,
		retriever: retriever,
		store:     st,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.With("component", "planning"),
	}
}

// Generate asks the model for a new plan, replaces the user's active
// plan with it and returns a confirmation for the user. An unusable
// model answer yields a retry message rather than an error.
func (g *Generator) Generate(ctx context.Context, userID int64) (string, error) {
	u, err := g.store.GetUser(userID)
	if err != nil {
		return "", fmt.Errorf("load user: %w", err)
	}

	var reference string
	if g.retriever != nil {
		reference = g.retriever.Retrieve(ctx, prompts.PlanningRetrievalQuery, RetrievalLimit)
	}

	resp, err := g.llm.Chat(ctx, &llm.Request{
		Model:     g.cfg.Model,
		System:    prompts.PlanningSystemPrompt(g.cfg.Weeks, reference),
		Messages:  []llm.Message{llm.TextMessage(llm.RoleUser, prompts.PlanningUserPrompt(g.cfg.Weeks))},
		MaxTokens: MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("generate plan: %w", err)
	}

	weeks, err := parseWeeks(firstText(resp))
	if err != nil {
		g.logger.Warn("plan JSON parse failed", "user_id", userID, "error", err)
		return replyParseFailed, nil
	}
	if len(weeks) == 0 {
		g.logger.Warn("plan has no weeks", "user_id", userID)
		return replyEmptyPlan, nil
	}

	start := NextMonday(g.now().In(u.Location()))
	period, err := g.store.ReplacePlanning(userID, start, weeks)
	if err != nil {
		return "", fmt.Errorf("save plan: %w", err)
	}

	g.logger.Info("plan generated",
		"user_id", userID,
		"weeks", period.TotalWeeks,
		"start", period.StartDate,
		"reference", reference != "",
	)
	return fmt.Sprintf("He generado una nueva planificación de %d semanas (desde el %s). Te enviaré el plan cada semana en el día configurado.",
		period.TotalWeeks, period.StartDate), nil
}

// NextMonday returns the calendar date of the coming Monday, or of t
// itself when t is a Monday.
func NextMonday(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (8 - int(day.Weekday())) % 7
	return day.AddDate(0, 0, offset)
}

func firstText(resp *llm.Response) string {
	for _, b := range resp.Content {
		if b.Kind == llm.BlockText {
			return b.Text
		}
	}
	return ""
}

// parseWeeks decodes the model's plan, tolerating markdown code fences
// around the JSON.
func parseWeeks(text string) ([]store.WeekPlan, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var plan struct {
		Weeks []struct {
			WeekNumber int    `json:"week_number"`
			Content    string `json:"content"`
		} `json:"weeks"`
	}
	if err := json.Unmarshal([]byte(text), &plan); err != nil {
		return nil, err
	}

	weeks := make([]store.WeekPlan, len(plan.Weeks))
	for i, w := range plan.Weeks {
		weeks[i] = store.WeekPlan{Number: w.WeekNumber, Content: w.Content}
	}
	return weeks, nil
}
