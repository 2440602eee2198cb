package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/nugget/coach-ai-agent/internal/agent"
	"github.com/nugget/coach-ai-agent/internal/config"
	"github.com/nugget/coach-ai-agent/internal/embeddings"
	"github.com/nugget/coach-ai-agent/internal/knowledge"
	"github.com/nugget/coach-ai-agent/internal/llm"
	"github.com/nugget/coach-ai-agent/internal/planning"
	"github.com/nugget/coach-ai-agent/internal/scheduler"
	"github.com/nugget/coach-ai-agent/internal/store"
	"github.com/nugget/coach-ai-agent/internal/strava"
	"github.com/nugget/coach-ai-agent/internal/tools"
	"github.com/nugget/coach-ai-agent/internal/whatsapp"
)

// app is the fully wired coach: storage, model, tools, messaging and
// the scheduler that pushes plans and sync prompts.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store     *store.Store
	knowledge *knowledge.Store
	embedder  embeddings.Provider
	retriever *knowledge.Retriever
	llm       llm.Client
	strava    *strava.Client
	bridge    *whatsapp.Bridge
	sched     *scheduler.Scheduler
	delivery  *scheduler.Delivery
}

// openStores creates the data directory and opens the shared database
// along with the knowledge base that lives in it.
func openStores(cfg *config.Config) (*store.Store, *knowledge.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewStore(cfg.DatabasePath())
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	ks, err := knowledge.NewStore(st.DB())
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("open knowledge base: %w", err)
	}
	return st, ks, nil
}

func userDefaults(cfg *config.Config) store.UserDefaults {
	return store.UserDefaults{
		DeliveryDay:    cfg.Plan.DeliveryDay,
		DeliveryHour:   cfg.Plan.DeliveryHour,
		DeliveryMinute: cfg.Plan.DeliveryMinute,
		Timezone:       cfg.Plan.Timezone,
	}
}

// newApp wires every component from cfg. Outbound WhatsApp is only
// attached when send is true and Twilio credentials are present.
func newApp(cfg *config.Config, logger *slog.Logger, send bool) (*app, error) {
	st, ks, err := openStores(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, store: st, knowledge: ks}

	a.embedder = embeddings.New(embeddings.Config{
		Provider: cfg.Embeddings.Provider,
		APIKey:   cfg.Embeddings.APIKey,
		Model:    cfg.Embeddings.Model,
		BaseURL:  cfg.Embeddings.BaseURL,
	}, logger)
	a.retriever = knowledge.NewRetriever(ks, a.embedder, logger)
	a.llm = llm.NewAnthropicClient(cfg.Anthropic.APIKey, cfg.Anthropic.Model, logger)

	a.strava = strava.New(strava.Config{
		ClientID:     cfg.Strava.ClientID,
		ClientSecret: cfg.Strava.ClientSecret,
		RedirectURI:  cfg.Strava.RedirectURI,
	}, st, logger)

	// Interfaces stay nil, not typed-nil, when Strava is off so the
	// tools and jobs report it as unavailable.
	var stravaTool tools.Strava
	var stravaSync scheduler.ActivitySyncer
	if a.strava.Configured() {
		stravaTool = a.strava
		stravaSync = a.strava
	} else {
		logger.Info("strava not configured, activity tools disabled")
	}

	generator := planning.NewGenerator(a.llm, a.retriever, st, planning.Config{
		Model: cfg.Anthropic.Model,
		Weeks: cfg.Plan.WeeksCount,
	}, logger)

	schedStore, err := scheduler.NewStoreWithDB(st.DB())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open scheduler store: %w", err)
	}

	// The scheduler's executor needs the bridge, which needs the loop,
	// which needs the tools, which need the scheduler. The closure
	// breaks the cycle; jobs is set before the scheduler starts.
	var jobs *scheduler.Jobs
	a.sched = scheduler.New(logger, schedStore, func(ctx context.Context, task *scheduler.Task, exec *scheduler.Execution) error {
		return jobs.Execute(ctx, task, exec)
	})
	a.delivery = scheduler.NewDelivery(a.sched)

	registry := tools.NewRegistry(tools.Deps{
		Store:    st,
		Planner:  generator,
		Strava:   stravaTool,
		Delivery: a.delivery,
		Logger:   logger,
	})

	provider := agent.NewCompositeContextProvider(logger,
		agent.NewRetrievalProvider(a.retriever, agent.DefaultRetrievalLimit),
		agent.NewPreferencesProvider(st),
	)
	loop := agent.NewLoop(a.llm, registry, provider, agent.Config{
		Model:     cfg.Anthropic.Model,
		MaxTokens: cfg.Anthropic.MaxTokens,
	}, logger)

	var sender whatsapp.Sender
	if send {
		twilio := whatsapp.NewTwilio(whatsapp.TwilioConfig{
			AccountSID: cfg.Twilio.AccountSID,
			AuthToken:  cfg.Twilio.AuthToken,
			From:       cfg.Twilio.WhatsAppNumber,
		}, logger)
		if twilio.Configured() {
			sender = twilio
		} else {
			logger.Warn("twilio not configured, replies will not be sent")
		}
	}

	a.bridge = whatsapp.NewBridge(whatsapp.BridgeConfig{
		Store:         st,
		Runner:        loop,
		Sender:        sender,
		Defaults:      userDefaults(cfg),
		Logger:        logger,
		AllowedPhone:  cfg.Webhook.UserPhone,
		RateLimit:     cfg.Webhook.RateLimit,
		HandleTimeout: cfg.Webhook.HandleTimeout,
	})

	jobs = scheduler.NewJobs(st, a.bridge, stravaSync, logger)

	return a, nil
}

// scheduleUsers makes sure every known user, plus the configured one,
// has a weekly plan delivery task.
func (a *app) scheduleUsers(ctx context.Context) error {
	if phone := whatsapp.NormalizePhone(a.cfg.Webhook.UserPhone); phone != "" {
		if _, err := a.store.GetOrCreateUser(phone, userDefaults(a.cfg)); err != nil {
			return fmt.Errorf("create configured user: %w", err)
		}
	}
	users, err := a.store.Users()
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		if err := a.delivery.Reschedule(ctx, u); err != nil {
			return fmt.Errorf("schedule plan delivery for user %d: %w", u.ID, err)
		}
	}
	return nil
}

func (a *app) Close() error {
	return a.store.Close()
}
