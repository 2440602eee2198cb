// Package tools defines the actions the coach can take on the user's
// behalf and dispatches the model's tool requests to them.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/nugget/coach-ai-agent/internal/llm"
	"github.com/nugget/coach-ai-agent/internal/store"
)

// Handler executes one tool. A returned error becomes a textual result.
type Handler func(ctx context.Context, env Env, args map[string]any) (string, error)

// Tool is a callable tool.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema object
	Handler     Handler
}

// Result is the outcome of one dispatch. Err marks failures so the model
// can be told the result is an error, but Text is always populated.
type Result struct {
	Text string
	Err  bool
}

// Planner generates and stores a new training plan.
type Planner interface {
	Generate(ctx context.Context, userID int64) (string, error)
}

// Strava links the user's Strava account and mirrors activities.
type Strava interface {
	AuthorizeURL(userID int64) (string, error)
	Sync(ctx context.Context, userID int64) ([]store.Activity, error)
}

// DeliveryScheduler keeps the weekly plan delivery in step with the
// user's settings.
type DeliveryScheduler interface {
	Reschedule(ctx context.Context, user *store.User) error
}

// Deps are the collaborators tool handlers may use. Planner, Strava and
// Delivery are optional.
type Deps struct {
	Store    *store.Store
	Planner  Planner
	Strava   Strava
	Delivery DeliveryScheduler
	Now      func() time.Time
	Logger   *slog.Logger
}

// Env is what a handler sees of one dispatch: the caller plus the
// shared collaborators.
type Env struct {
	Deps
	UserID int64
}

// User loads the calling user.
func (e Env) User() (*store.User, error) {
	return e.Store.GetUser(e.UserID)
}

// Today returns the current calendar date in the user's timezone.
func (e Env) Today(u *store.User) time.Time {
	now := e.Now().In(u.Location())
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// Registry holds available tools in registration order.
type Registry struct {
	tools  map[string]*Tool
	order  []string
	deps   Deps
	logger *slog.Logger
}

// NewRegistry creates a registry with the coach's tool catalog.
func NewRegistry(deps Deps) *Registry {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r := &Registry{
		tools:  make(map[string]*Tool),
		deps:   deps,
		logger: deps.Logger.With("component", "tools"),
	}
	r.registerPlanTools()
	r.registerStravaTools()
	r.registerProfileTools()
	r.registerDailyTools()
	r.registerGenerateTool()
	return r
}

// Register adds a tool. Re-registering a name replaces the handler but
// keeps the original position.
func (r *Registry) Register(t *Tool) {
	if _, ok := r.tools[t.Name]; !ok {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Definitions returns the catalog for the model, in registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	return defs
}

// Dispatch runs a tool on behalf of userID. It never fails: unknown
// tools, handler errors and panics all come back as text.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any, userID int64) (res Result) {
	tool := r.tools[name]
	if tool == nil {
		r.logger.Warn("unknown tool requested", "tool", name)
		return Result{Text: (&ErrUnknownTool{ToolName: name}).Error(), Err: true}
	}
	if args == nil {
		args = map[string]any{}
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked", "tool", name, "panic", p, "stack", string(debug.Stack()))
			res = Result{Text: fmt.Sprintf("Error executing %s: %v", name, p), Err: true}
		}
	}()

	text, err := tool.Handler(ctx, Env{Deps: r.deps, UserID: userID}, args)
	if err != nil {
		r.logger.Warn("tool failed", "tool", name, "user_id", userID, "error", err)
		return Result{Text: fmt.Sprintf("Error executing %s: %s", name, err), Err: true}
	}

	r.logger.Debug("tool executed", "tool", name, "user_id", userID, "elapsed", time.Since(start))
	return Result{Text: text}
}
