package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nugget/coach-ai-agent/internal/agent"
	"github.com/nugget/coach-ai-agent/internal/llm"
	"github.com/nugget/coach-ai-agent/internal/store"
	"github.com/nugget/coach-ai-agent/internal/tools"
)

// ApologyReply is sent when the model cannot be reached.
const ApologyReply = "Lo siento, tuve un problema procesando tu mensaje. Intenta de nuevo en un momento."

const (
	// DefaultHistoryLimit is how many prior turns accompany a message.
	DefaultHistoryLimit = 20

	// defaultHandleTimeout bounds one inbound message (agent loop + reply).
	defaultHandleTimeout = 2 * time.Minute

	// limiterIdle is how long an unused per-sender limiter is kept.
	limiterIdle = 10 * time.Minute
)

var (
	// ErrUnauthorized means the sender is not the configured user.
	ErrUnauthorized = errors.New("sender not authorized")

	// ErrRateLimited means the sender exceeded the per-minute limit.
	ErrRateLimited = errors.New("sender rate limited")
)

// Runner answers one user message given the conversation so far.
type Runner interface {
	Run(ctx context.Context, userID int64, history []agent.Turn, message string) (string, error)
}

// Sender delivers an outbound message.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// BridgeConfig holds the dependencies for a Bridge.
type BridgeConfig struct {
	Store    *store.Store
	Runner   Runner
	Sender   Sender
	Defaults store.UserDefaults
	Logger   *slog.Logger

	AllowedPhone  string        // empty accepts any sender
	RateLimit     int           // per sender per minute; 0 = unlimited
	HandleTimeout time.Duration // 0 = defaultHandleTimeout
	HistoryLimit  int           // 0 = DefaultHistoryLimit
}

// Bridge turns inbound WhatsApp messages into coach replies. Turns are
// handled one at a time so history stays consistent.
type Bridge struct {
	store    *store.Store
	runner   Runner
	sender   Sender
	defaults store.UserDefaults
	logger   *slog.Logger

	allowed      string
	rateLimit    int
	timeout      time.Duration
	historyLimit int

	turnMu sync.Mutex

	mu          sync.Mutex
	limiters    map[string]*senderLimiter
	lastCleanup time.Time
}

type senderLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewBridge creates a bridge.
func NewBridge(cfg BridgeConfig) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		store:        cfg.Store,
		runner:       cfg.Runner,
		sender:       cfg.Sender,
		defaults:     cfg.Defaults,
		logger:       logger.With("component", "whatsapp"),
		allowed:      NormalizePhone(cfg.AllowedPhone),
		rateLimit:    cfg.RateLimit,
		timeout:      cfg.HandleTimeout,
		historyLimit: cfg.HistoryLimit,
		limiters:     make(map[string]*senderLimiter),
	}
	if b.timeout <= 0 {
		b.timeout = defaultHandleTimeout
	}
	if b.historyLimit <= 0 {
		b.historyLimit = DefaultHistoryLimit
	}
	return b
}

// Handle processes one inbound message and returns the reply that was
// sent. Blank messages are ignored and return "".
func (b *Bridge) Handle(ctx context.Context, from, body string) (string, error) {
	phone := NormalizePhone(from)
	body = strings.TrimSpace(body)
	if phone == "" || body == "" {
		return "", nil
	}

	if b.allowed != "" && phone != b.allowed {
		b.logger.Warn("message from unauthorized sender dropped", "sender", phone)
		return "", ErrUnauthorized
	}
	if !b.allowSender(phone, time.Now()) {
		b.logger.Warn("message rate-limited", "sender", phone)
		return "", ErrRateLimited
	}

	b.turnMu.Lock()
	defer b.turnMu.Unlock()

	// The budget starts once this turn holds the lock, not while it
	// waits behind another one.
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	user, err := b.store.GetOrCreateUser(phone, b.defaults)
	if err != nil {
		return "", fmt.Errorf("load user: %w", err)
	}
	history, err := b.history(user.ID)
	if err != nil {
		return "", err
	}
	if err := b.store.AddMessage(user.ID, llm.RoleUser, body); err != nil {
		return "", fmt.Errorf("save message: %w", err)
	}

	b.logger.Info("message received",
		"user_id", user.ID,
		"message_len", len(body),
		"history", len(history),
	)

	reply := b.reply(ctx, user, history, body)

	if err := b.store.AddMessage(user.ID, llm.RoleAssistant, reply); err != nil {
		b.logger.Error("failed to save reply", "user_id", user.ID, "error", err)
	}
	b.send(ctx, phone, reply)

	return reply, nil
}

func (b *Bridge) history(userID int64) ([]agent.Turn, error) {
	msgs, err := b.store.LastMessages(userID, b.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	turns := make([]agent.Turn, len(msgs))
	for i, m := range msgs {
		turns[i] = agent.Turn{Role: m.Role, Content: m.Content}
	}
	return turns, nil
}

// reply produces the answer for one turn. An explicit affirmative while
// an erase is pending is handled without the model. A pending erase
// that the turn did not act on is cancelled.
func (b *Bridge) reply(ctx context.Context, user *store.User, history []agent.Turn, body string) string {
	armed := user.PendingDelete
	if armed && IsAffirmative(body) {
		if err := b.store.DeleteAllUserData(user.ID); err != nil {
			b.logger.Error("erase failed", "user_id", user.ID, "error", err)
			return ApologyReply
		}
		b.logger.Info("user data erased on confirmation", "user_id", user.ID)
		return tools.EraseDoneReply
	}

	reply, err := b.runner.Run(tools.WithEraseArmedAtStart(ctx, armed), user.ID, history, body)
	if armed {
		b.disarm(user.ID)
	}
	if err != nil {
		b.logger.Error("agent run failed", "user_id", user.ID, "error", err)
		return ApologyReply
	}
	return reply
}

func (b *Bridge) disarm(userID int64) {
	u, err := b.store.GetUser(userID)
	if err != nil || !u.PendingDelete {
		return
	}
	if err := b.store.SetPendingDelete(userID, false); err != nil {
		b.logger.Warn("failed to cancel pending erase", "user_id", userID, "error", err)
		return
	}
	b.logger.Debug("pending erase cancelled", "user_id", userID)
}

func (b *Bridge) send(ctx context.Context, to, body string) {
	if b.sender == nil {
		return
	}
	err := b.sender.Send(ctx, to, body)
	switch {
	case errors.Is(err, ErrNotConfigured):
		b.logger.Debug("outbound messaging disabled, reply not sent", "to", to)
	case err != nil:
		b.logger.Error("reply send failed", "to", to, "error", err)
	}
}

// Notify sends an unsolicited message and records it in the user's
// history so the model sees it on the next turn.
func (b *Bridge) Notify(ctx context.Context, user *store.User, body string) error {
	if err := b.store.AddMessage(user.ID, llm.RoleAssistant, body); err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	if b.sender == nil {
		return nil
	}
	return b.sender.Send(ctx, user.Phone, body)
}

// allowSender applies the per-sender token bucket.
func (b *Bridge) allowSender(sender string, now time.Time) bool {
	if b.rateLimit <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeCleanupLocked(now)

	sl, ok := b.limiters[sender]
	if !ok {
		sl = &senderLimiter{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(b.rateLimit)), b.rateLimit),
		}
		b.limiters[sender] = sl
	}
	sl.lastSeen = now
	return sl.limiter.AllowN(now, 1)
}

// maybeCleanupLocked evicts idle limiters. Must be called with b.mu held.
func (b *Bridge) maybeCleanupLocked(now time.Time) {
	if now.Sub(b.lastCleanup) < limiterIdle {
		return
	}
	b.lastCleanup = now
	for sender, sl := range b.limiters {
		if now.Sub(sl.lastSeen) > limiterIdle {
			delete(b.limiters, sender)
		}
	}
}

// IsAffirmative reports whether text is an explicit confirmation
// (SÍ, SI or YES, ignoring case, accents and closing punctuation).
func IsAffirmative(text string) bool {
	t := strings.ToUpper(strings.TrimSpace(text))
	t = strings.TrimRight(t, ".!¡ ")
	t = strings.ReplaceAll(t, "Í", "I")
	switch t {
	case "SI", "YES":
		return true
	}
	return false
}
