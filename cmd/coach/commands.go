package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nugget/coach-ai-agent/internal/api"
	"github.com/nugget/coach-ai-agent/internal/buildinfo"
	"github.com/nugget/coach-ai-agent/internal/config"
	"github.com/nugget/coach-ai-agent/internal/knowledge"
	"github.com/nugget/coach-ai-agent/internal/scheduler"
)

// shutdownTimeout bounds how long serve waits for in-flight replies.
const shutdownTimeout = 30 * time.Second

// askPhone identifies the local user when no user_phone is configured.
const askPhone = "+10000000000"

// runServe starts the webhook server and the scheduler and blocks until
// SIGINT or SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(stdout, cfg.LogLevel)
	if err != nil {
		return err
	}

	logger.Info("starting coach",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"config", cfgPath,
	)

	a, err := newApp(cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.llm.Ping(pingCtx); err != nil {
		logger.Warn("model provider not reachable", "error", err)
	}
	cancel()

	if err := a.sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer a.sched.Stop()

	if err := a.scheduleUsers(ctx); err != nil {
		return err
	}
	if err := scheduler.EnsureStravaSync(a.sched, cfg.Strava.SyncInterval); err != nil {
		return fmt.Errorf("schedule strava sync: %w", err)
	}

	var linker api.StravaLinker
	if a.strava.Configured() {
		linker = a.strava
	}
	server := api.NewServer(api.Config{
		Address: cfg.Listen.Address,
		Port:    cfg.Listen.Port,
		AppName: cfg.AppName,
	}, a.bridge, linker, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown", "error", err)
	}
	return nil
}

// runAsk sends one message through the full conversation path as the
// configured user and prints the reply. Nothing is sent over WhatsApp.
func runAsk(ctx context.Context, stdout io.Writer, configPath, message string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	phone := cfg.Webhook.UserPhone
	if phone == "" {
		phone = askPhone
	}
	reply, err := a.bridge.Handle(ctx, phone, message)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, reply)
	return nil
}

// runIngest chunks, embeds and stores one document.
func runIngest(ctx context.Context, stdout io.Writer, configPath, outputFmt, path, source string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	return ingestFile(ctx, stdout, knowledge.NewIngester(a.knowledge, a.embedder, logger), outputFmt, path, source)
}

func ingestFile(ctx context.Context, w io.Writer, in *knowledge.Ingester, outputFmt, path, source string) error {
	doc, err := knowledge.LoadFile(path, source)
	if err != nil {
		return err
	}
	res, err := in.Ingest(ctx, []knowledge.Document{doc})
	if err != nil {
		return fmt.Errorf("ingest %s: %w", path, err)
	}

	if outputFmt == "json" {
		return writeJSONOutput(w, map[string]any{
			"source":   doc.Source,
			"inserted": res.Inserted,
			"skipped":  res.Skipped,
		})
	}
	fmt.Fprintf(w, "%s: %d chunks stored, %d skipped\n", doc.Source, res.Inserted, res.Skipped)
	if res.Inserted == 0 && res.Skipped > 0 {
		fmt.Fprintln(w, "No chunks were embedded. Check the embeddings section of the config.")
	}
	return nil
}

// runForget removes one knowledge source, or every source when source
// is empty.
func runForget(ctx context.Context, stdout io.Writer, configPath, outputFmt, source string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, ks, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	return forgetSource(ctx, stdout, ks, outputFmt, source)
}

func forgetSource(ctx context.Context, w io.Writer, ks *knowledge.Store, outputFmt, source string) error {
	n, err := ks.Clear(ctx, source)
	if err != nil {
		return err
	}
	remaining, err := ks.Sources(ctx)
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		return writeJSONOutput(w, map[string]any{
			"source":    source,
			"deleted":   n,
			"remaining": remaining,
		})
	}
	label := source
	if label == "" {
		label = "all sources"
	}
	fmt.Fprintf(w, "%s: %d chunks deleted\n", label, n)
	for _, s := range remaining {
		fmt.Fprintf(w, "  %-30s %d\n", s.Source, s.Chunks)
	}
	return nil
}
