// Package api implements the coach's HTTP endpoints: the WhatsApp
// webhook, the Strava OAuth callback and health probes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"github.com/nugget/coach-ai-agent/internal/buildinfo"
	"github.com/nugget/coach-ai-agent/internal/strava"
)

// qrSize is the edge length in pixels of the Strava connect QR code.
const qrSize = 256

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// InboundHandler processes one inbound WhatsApp message.
type InboundHandler interface {
	Handle(ctx context.Context, from, body string) (string, error)
}

// StravaLinker completes Strava account linking.
type StravaLinker interface {
	AuthorizeURL(userID int64) (string, error)
	Exchange(ctx context.Context, code string, userID int64) error
}

// Config holds server settings.
type Config struct {
	Address string
	Port    int
	AppName string
}

// Server is the HTTP API server.
type Server struct {
	cfg     Config
	inbound InboundHandler
	strava  StravaLinker
	logger  *slog.Logger

	mu     sync.Mutex
	server *http.Server

	// inflight tracks webhook messages still being answered.
	inflight sync.WaitGroup
}

// NewServer creates a new API server. linker may be nil.
func NewServer(cfg Config, inbound InboundHandler, linker StravaLinker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		inbound: inbound,
		strava:  linker,
		logger:  logger.With("component", "api"),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)

	mux.HandleFunc("POST /webhook/whatsapp", s.handleWhatsAppWebhook)

	mux.HandleFunc("GET /strava/callback", s.handleStravaCallback)
	mux.HandleFunc("GET /strava/connect.png", s.handleStravaQR)

	return s.withLogging(mux)
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	addr := s.cfg.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.cfg.Port)
	return s.Serve(ctx, ln)
}

// Serve answers requests on ln. Request contexts derive from ctx, so
// background replies keep its values after the request ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()
	return srv.Serve(ln)
}

// Shutdown gracefully stops the server and waits for messages that
// are still being answered.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown with messages still in flight")
	}
	return err
}

type requestIDKey struct{}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := uuid.NewString()
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"app":    s.cfg.AppName,
		"status": "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"}, s.logger)
}

// handleWhatsAppWebhook acknowledges Twilio immediately and answers the
// message in the background; the reply goes out through the REST API.
func (s *Server) handleWhatsAppWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.logger.Debug("malformed webhook body", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}
	from := formValue(r, "From", "from")
	body := strings.TrimSpace(formValue(r, "Body", "body"))
	if from == "" || body == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	logger := s.logger.With("request_id", requestID(r.Context()))
	ctx := context.WithoutCancel(r.Context())

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if _, err := s.inbound.Handle(ctx, from, body); err != nil {
			logger.Warn("inbound message not handled", "error", err)
		}
	}()

	w.WriteHeader(http.StatusOK)
}

func formValue(r *http.Request, keys ...string) string {
	for _, k := range keys {
		if v := r.PostForm.Get(k); v != "" {
			return v
		}
	}
	return ""
}

const (
	pageConnected = "<!DOCTYPE html><html><head><meta charset='utf-8'></head><body><h1>Strava conectado</h1><p>Ya puedes cerrar esta ventana y volver a WhatsApp.</p></body></html>"
	pageMissing   = "<h1>Faltan code o state</h1>"
	pageBadState  = "<h1>State inválido</h1>"
	pageFailed    = "<h1>Error al conectar con Strava</h1>"
)

func writeHTML(w http.ResponseWriter, status int, page string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(page))
}

// handleStravaCallback finishes OAuth. The state parameter carries the
// user id the authorize link was issued for.
func (s *Server) handleStravaCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		writeHTML(w, http.StatusBadRequest, pageMissing)
		return
	}
	userID, err := strconv.ParseInt(state, 10, 64)
	if err != nil || userID <= 0 {
		writeHTML(w, http.StatusBadRequest, pageBadState)
		return
	}
	if s.strava == nil {
		writeHTML(w, http.StatusServiceUnavailable, pageFailed)
		return
	}

	if err := s.strava.Exchange(r.Context(), code, userID); err != nil {
		s.logger.Error("strava code exchange failed", "user_id", userID, "error", err)
		writeHTML(w, http.StatusInternalServerError, pageFailed)
		return
	}
	s.logger.Info("strava connected", "user_id", userID)
	writeHTML(w, http.StatusOK, pageConnected)
}

// handleStravaQR renders the user's Strava authorize link as a QR code
// so it can be scanned from another screen.
func (s *Server) handleStravaQR(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "invalid user", http.StatusBadRequest)
		return
	}
	if s.strava == nil {
		http.Error(w, "strava not configured", http.StatusServiceUnavailable)
		return
	}

	link, err := s.strava.AuthorizeURL(userID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, strava.ErrNotConfigured) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}

	png, err := qrcode.Encode(link, qrcode.Medium, qrSize)
	if err != nil {
		s.logger.Error("qr encode failed", "error", err)
		http.Error(w, "qr encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}
