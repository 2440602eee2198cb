package agent

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nugget/coach-ai-agent/internal/embeddings"
	"github.com/nugget/coach-ai-agent/internal/knowledge"
	"github.com/nugget/coach-ai-agent/internal/llm"
	"github.com/nugget/coach-ai-agent/internal/prompts"
	"github.com/nugget/coach-ai-agent/internal/store"
	"github.com/nugget/coach-ai-agent/internal/tools"
)

// scriptedLLM replays canned responses and records every request.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []*llm.Response
	requests  []llm.Request
	err       error
}

func (s *scriptedLLM) Chat(_ context.Context, req *llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := *req
	r.Messages = append([]llm.Message(nil), req.Messages...)
	s.requests = append(s.requests, r)

	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return &llm.Response{}, nil
	}
	// The last response repeats once the script runs out.
	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return resp, nil
}

func (s *scriptedLLM) Ping(context.Context) error { return nil }

func respond(blocks ...llm.ContentBlock) *llm.Response {
	return &llm.Response{Content: blocks}
}

func toolUse(id, name string, args map[string]any) llm.ContentBlock {
	return llm.ToolUseBlock(llm.ToolCall{ID: id, Name: name, Arguments: args})
}

// fakeTools answers every call with a fixed function of its name.
type fakeTools struct {
	mu     sync.Mutex
	calls  []string
	delays map[string]time.Duration
	fail   map[string]bool
}

func (f *fakeTools) Definitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{{Name: "a"}, {Name: "b"}, {Name: "c"}}
}

func (f *fakeTools) Dispatch(_ context.Context, name string, _ map[string]any, _ int64) tools.Result {
	if d := f.delays[name]; d > 0 {
		time.Sleep(d)
	}
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if f.fail[name] {
		return tools.Result{Text: "Error executing " + name + ": boom", Err: true}
	}
	return tools.Result{Text: "result:" + name}
}

type staticContext struct {
	text string
	err  error
}

func (s staticContext) GetContext(context.Context, int64, string) (string, error) {
	return s.text, s.err
}

func TestRun_PlainReply(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{respond(llm.TextBlock("  Hola, ¿cómo estás?  "))}}
	ft := &fakeTools{}
	loop := NewLoop(model, ft, nil, Config{Model: "m", MaxTokens: 100}, nil)

	got, err := loop.Run(context.Background(), 1, nil, "hola")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "Hola, ¿cómo estás?" {
		t.Errorf("reply = %q", got)
	}
	if len(model.requests) != 1 {
		t.Fatalf("model calls = %d, want 1", len(model.requests))
	}
	req := model.requests[0]
	if req.Model != "m" || req.MaxTokens != 100 || len(req.Tools) != 3 {
		t.Errorf("request = %+v", req)
	}
	if req.System != prompts.CoachSystemPrompt("") {
		t.Errorf("system prompt should be the bare coach prompt without context")
	}
	if len(ft.calls) != 0 {
		t.Errorf("no tools should run, got %v", ft.calls)
	}
}

func TestRun_EmptyReplyFallsBack(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{respond(llm.TextBlock("   "))}}
	loop := NewLoop(model, &fakeTools{}, nil, Config{}, nil)

	got, err := loop.Run(context.Background(), 1, nil, "ok")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != prompts.FallbackReply {
		t.Errorf("reply = %q, want fallback", got)
	}
}

func TestRun_HistoryNormalized(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{respond(llm.TextBlock("ok"))}}
	loop := NewLoop(model, &fakeTools{}, nil, Config{}, nil)

	history := []Turn{
		{Role: "user", Content: "primero"},
		{Role: "assistant", Content: ""},
		{Role: "system", Content: "respuesta"},
		{Role: "user", Content: "  "},
	}
	if _, err := loop.Run(context.Background(), 1, history, "último"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	msgs := model.requests[0].Messages
	want := []struct{ role, text string }{
		{llm.RoleUser, "primero"},
		{llm.RoleAssistant, "respuesta"},
		{llm.RoleUser, "último"},
	}
	if len(msgs) != len(want) {
		t.Fatalf("messages = %d, want %d", len(msgs), len(want))
	}
	for i, w := range want {
		if msgs[i].Role != w.role || msgs[i].Content[0].Text != w.text {
			t.Errorf("message %d = %s %q, want %s %q", i, msgs[i].Role, msgs[i].Content[0].Text, w.role, w.text)
		}
	}
}

func TestRun_RoundBound(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{
		respond(llm.TextBlock("revisando"), toolUse("t1", "a", nil)),
	}}
	ft := &fakeTools{}
	loop := NewLoop(model, ft, nil, Config{}, nil)

	got, err := loop.Run(context.Background(), 1, nil, "hazlo")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(model.requests) != DefaultMaxRounds {
		t.Errorf("model calls = %d, want %d", len(model.requests), DefaultMaxRounds)
	}
	if len(ft.calls) != DefaultMaxRounds {
		t.Errorf("tool calls = %d, want %d", len(ft.calls), DefaultMaxRounds)
	}
	if got != "revisando" {
		t.Errorf("reply = %q, want last text at exhaustion", got)
	}
}

func TestRun_RoundBoundWithoutText(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{respond(toolUse("t1", "a", nil))}}
	loop := NewLoop(model, &fakeTools{}, nil, Config{MaxRounds: 2}, nil)

	got, err := loop.Run(context.Background(), 1, nil, "x")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(model.requests) != 2 {
		t.Errorf("model calls = %d, want 2", len(model.requests))
	}
	if got != prompts.FallbackReply {
		t.Errorf("reply = %q, want fallback", got)
	}
}

func TestRun_DraftTextNotReturned(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{
		respond(llm.TextBlock("Un momento..."), toolUse("t1", "a", nil)),
		respond(llm.TextBlock("Hecho.")),
	}}
	loop := NewLoop(model, &fakeTools{}, nil, Config{}, nil)

	got, err := loop.Run(context.Background(), 1, nil, "x")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "Hecho." {
		t.Errorf("reply = %q, want final text", got)
	}

	// The draft stays in the transcript ahead of the tool request.
	second := model.requests[1].Messages
	assistant := second[len(second)-2]
	if assistant.Role != llm.RoleAssistant || len(assistant.Content) != 2 {
		t.Fatalf("assistant message = %+v", assistant)
	}
	if assistant.Content[0].Kind != llm.BlockText || assistant.Content[1].Kind != llm.BlockToolUse {
		t.Errorf("assistant blocks = %v, %v", assistant.Content[0].Kind, assistant.Content[1].Kind)
	}
}

func TestRun_ResultOrdering(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{
		respond(
			toolUse("id-a", "a", map[string]any{"x": 1}),
			toolUse("id-b", "b", nil),
			toolUse("id-c", "c", nil),
		),
		respond(llm.TextBlock("listo")),
	}}
	// Completion order is the reverse of request order.
	ft := &fakeTools{delays: map[string]time.Duration{
		"a": 60 * time.Millisecond,
		"b": 30 * time.Millisecond,
	}}
	loop := NewLoop(model, ft, nil, Config{}, nil)

	if _, err := loop.Run(context.Background(), 1, nil, "x"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(model.requests) != 2 {
		t.Fatalf("model calls = %d, want 2", len(model.requests))
	}

	msgs := model.requests[1].Messages
	results := msgs[len(msgs)-1]
	if results.Role != llm.RoleUser {
		t.Fatalf("results role = %q, want user", results.Role)
	}
	wantIDs := []string{"id-a", "id-b", "id-c"}
	if len(results.Content) != len(wantIDs) {
		t.Fatalf("result blocks = %d, want %d", len(results.Content), len(wantIDs))
	}
	for i, id := range wantIDs {
		b := results.Content[i]
		if b.Kind != llm.BlockToolResult || b.ToolResult.ToolCallID != id {
			t.Errorf("block %d = %+v, want result for %s", i, b, id)
		}
	}
	if results.Content[0].ToolResult.Content != "result:a" {
		t.Errorf("first result = %q", results.Content[0].ToolResult.Content)
	}
}

func TestRun_ToolFailureIsolated(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{
		respond(toolUse("1", "a", nil), toolUse("2", "b", nil)),
		respond(llm.TextBlock("No pude con una parte.")),
	}}
	ft := &fakeTools{fail: map[string]bool{"a": true}}
	loop := NewLoop(model, ft, nil, Config{}, nil)

	got, err := loop.Run(context.Background(), 1, nil, "x")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "No pude con una parte." {
		t.Errorf("reply = %q", got)
	}

	msgs := model.requests[1].Messages
	results := msgs[len(msgs)-1].Content
	if !results[0].ToolResult.IsError || !strings.HasPrefix(results[0].ToolResult.Content, "Error executing a") {
		t.Errorf("failed tool result = %+v", results[0].ToolResult)
	}
	if results[1].ToolResult.IsError || results[1].ToolResult.Content != "result:b" {
		t.Errorf("sibling result = %+v", results[1].ToolResult)
	}
}

func TestRun_ModelErrorPropagates(t *testing.T) {
	sentinel := errors.New("overloaded")
	model := &scriptedLLM{err: sentinel}
	loop := NewLoop(model, &fakeTools{}, nil, Config{}, nil)

	got, err := loop.Run(context.Background(), 1, nil, "x")
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want wrapped sentinel", err)
	}
	if got != "" {
		t.Errorf("reply = %q, want empty on error", got)
	}
	if len(model.requests) != 1 {
		t.Errorf("model calls = %d, want no retry", len(model.requests))
	}
}

func TestRun_ContextSoftFails(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{respond(llm.TextBlock("ok"))}}
	provider := NewCompositeContextProvider(nil,
		staticContext{err: errors.New("embedding quota")},
		staticContext{text: "[guia]\nZona 2 es suave."},
	)
	loop := NewLoop(model, &fakeTools{}, provider, Config{}, nil)

	got, err := loop.Run(context.Background(), 1, nil, "qué es zona 2")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "ok" {
		t.Errorf("reply = %q", got)
	}
	want := prompts.CoachSystemPrompt("[guia]\nZona 2 es suave.")
	if model.requests[0].System != want {
		t.Errorf("system = %q, want %q", model.requests[0].System, want)
	}
}

func TestRun_TerminalReplyIsStable(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{respond(llm.TextBlock("Descansa hoy."))}}
	ft := &fakeTools{}
	loop := NewLoop(model, ft, nil, Config{}, nil)

	first, err := loop.Run(context.Background(), 1, nil, "¿qué hago?")
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := loop.Run(context.Background(), 1, nil, "¿qué hago?")
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if first != second || len(ft.calls) != 0 || len(model.requests) != 2 {
		t.Errorf("first=%q second=%q tools=%v calls=%d", first, second, ft.calls, len(model.requests))
	}
}

func TestRun_GreetingUsesTodayPlan(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "coach.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st, err := store.NewStoreWithDB(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	u, err := st.GetOrCreateUser("+56900000000", store.UserDefaults{
		DeliveryDay: "monday", DeliveryHour: 7, Timezone: "America/Santiago",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if _, err := st.ReplacePlanning(u.ID, monday, []store.WeekPlan{{Number: 1, Content: "Miércoles: descanso"}}); err != nil {
		t.Fatalf("ReplacePlanning: %v", err)
	}

	registry := tools.NewRegistry(tools.Deps{
		Store: st,
		Now:   func() time.Time { return time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC) },
	})
	model := &scriptedLLM{responses: []*llm.Response{
		respond(toolUse("toolu_1", "get_today_plan", nil)),
		respond(llm.TextBlock("¡Hola! Hoy toca descanso.")),
	}}
	loop := NewLoop(model, registry, NewPreferencesProvider(st), Config{}, nil)

	got, err := loop.Run(context.Background(), u.ID, nil, "hola")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "¡Hola! Hoy toca descanso." {
		t.Errorf("reply = %q", got)
	}

	msgs := model.requests[1].Messages
	result := msgs[len(msgs)-1].Content[0].ToolResult
	if result.ToolCallID != "toolu_1" || !strings.Contains(result.Content, "descanso") {
		t.Errorf("tool result = %+v", result)
	}
}

func TestPreferencesProvider(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "coach.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st, err := store.NewStoreWithDB(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	u, err := st.GetOrCreateUser("+1", store.UserDefaults{DeliveryDay: "monday", Timezone: "UTC"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	p := NewPreferencesProvider(st)
	got, err := p.GetContext(context.Background(), u.ID, "")
	if err != nil || got != "" {
		t.Fatalf("no preferences: got %q, %v", got, err)
	}

	if err := st.AddPreference(u.ID, store.KindRule, "No correr los domingos"); err != nil {
		t.Fatalf("AddPreference: %v", err)
	}
	got, err = p.GetContext(context.Background(), u.ID, "")
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if !strings.Contains(got, "[rule] No correr los domingos") {
		t.Errorf("context = %q", got)
	}
}

type fakeRetriever struct {
	query string
	limit int
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string, limit int) string {
	f.query, f.limit = query, limit
	return "[guia]\ntexto"
}

func TestRetrievalProvider(t *testing.T) {
	r := &fakeRetriever{}
	p := NewRetrievalProvider(r, 3)

	got, err := p.GetContext(context.Background(), 1, "umbral")
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if got != "[guia]\ntexto" || r.query != "umbral" || r.limit != 3 {
		t.Errorf("got %q query=%q limit=%d", got, r.query, r.limit)
	}
}

// todayPlanTool answers get_today_plan with a rest day and records the
// arguments it was called with.
type todayPlanTool struct {
	mu   sync.Mutex
	args []map[string]any
}

func (f *todayPlanTool) Definitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{{Name: "get_today_plan"}}
}

func (f *todayPlanTool) Dispatch(_ context.Context, name string, args map[string]any, _ int64) tools.Result {
	f.mu.Lock()
	f.args = append(f.args, args)
	f.mu.Unlock()
	if name != "get_today_plan" {
		return tools.Result{Text: "unknown tool: " + name, Err: true}
	}
	return tools.Result{Text: "Hoy: descanso."}
}

func TestRun_RestDayConversation(t *testing.T) {
	const want = "¡Hola! Hoy toca descanso, disfruta tu día."
	model := &scriptedLLM{responses: []*llm.Response{
		respond(toolUse("toolu_today", "get_today_plan", nil)),
		respond(llm.TextBlock(want)),
	}}
	tool := &todayPlanTool{}
	loop := NewLoop(model, tool, nil, Config{}, nil)

	history := []Turn{{Role: llm.RoleUser, Content: "hola"}}
	got, err := loop.Run(context.Background(), 1, history, "hola, ¿qué toca hoy?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
	if len(model.requests) != 2 {
		t.Fatalf("model calls = %d, want 2", len(model.requests))
	}

	first := model.requests[0].Messages
	if len(first) != 2 || first[0].Content[0].Text != "hola" || first[1].Content[0].Text != "hola, ¿qué toca hoy?" {
		t.Errorf("first request messages = %+v", first)
	}

	if len(tool.args) != 1 || tool.args[0] == nil || len(tool.args[0]) != 0 {
		t.Errorf("tool args = %v, want one call with an empty map", tool.args)
	}

	second := model.requests[1].Messages
	if len(second) != 4 {
		t.Fatalf("second request messages = %d, want 4", len(second))
	}
	call := second[2]
	if call.Role != llm.RoleAssistant || call.Content[0].Kind != llm.BlockToolUse || call.Content[0].ToolUse.ID != "toolu_today" {
		t.Errorf("assistant turn = %+v", call)
	}
	result := second[3]
	if result.Role != llm.RoleUser || len(result.Content) != 1 {
		t.Fatalf("results turn = %+v", result)
	}
	if r := result.Content[0].ToolResult; r.ToolCallID != "toolu_today" || r.Content != "Hoy: descanso." || r.IsError {
		t.Errorf("tool result = %+v", r)
	}
}

func TestRun_NoEmbeddingsLeavesPromptBare(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "coach.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ks, err := knowledge.NewStore(db)
	if err != nil {
		t.Fatalf("knowledge store: %v", err)
	}
	if err := ks.Add(context.Background(), "guia", "Zona 2: ritmo conversacional.", []float32{1, 0}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	retriever := knowledge.NewRetriever(ks, embeddings.Nop{}, nil)
	model := &scriptedLLM{responses: []*llm.Response{respond(llm.TextBlock("ok"))}}
	loop := NewLoop(model, &fakeTools{}, NewRetrievalProvider(retriever, DefaultRetrievalLimit), Config{}, nil)

	got, err := loop.Run(context.Background(), 1, nil, "¿qué es la zona 2?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "ok" {
		t.Errorf("reply = %q", got)
	}
	if sys := model.requests[0].System; sys != prompts.CoachSystemPrompt("") {
		t.Errorf("system prompt carries retrieval context:\n%s", sys)
	}
}
