// Package whatsapp connects the coach to WhatsApp through Twilio.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/coach-ai-agent/internal/httpkit"
)

const defaultTwilioBase = "https://api.twilio.com/2010-04-01"

// addressPrefix marks a Twilio address as a WhatsApp number.
const addressPrefix = "whatsapp:"

// ErrNotConfigured means Twilio credentials are missing and outbound
// messages are skipped.
var ErrNotConfigured = errors.New("twilio is not configured")

// TwilioConfig holds the Twilio account used for outbound messages.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string // the coach's WhatsApp number, with or without prefix
}

// Twilio sends WhatsApp messages through the Twilio REST API.
type Twilio struct {
	cfg        TwilioConfig
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewTwilio creates a sender.
func NewTwilio(cfg TwilioConfig, logger *slog.Logger) *Twilio {
	if logger == nil {
		logger = slog.Default()
	}
	return &Twilio{
		cfg:        cfg,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(30 * time.Second)),
		baseURL:    defaultTwilioBase,
		logger:     logger.With("component", "twilio"),
	}
}

// Configured reports whether outbound messages can be sent.
func (t *Twilio) Configured() bool {
	return t.cfg.AccountSID != "" && t.cfg.AuthToken != ""
}

// Send delivers body to the given phone number.
func (t *Twilio) Send(ctx context.Context, to, body string) error {
	if !t.Configured() {
		return ErrNotConfigured
	}

	form := url.Values{}
	form.Set("From", address(t.cfg.From))
	form.Set("To", address(to))
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", t.baseURL, url.PathEscape(t.cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("twilio returned %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	t.logger.Debug("message sent", "to", to, "len", len(body))
	return nil
}

// NormalizePhone turns a webhook sender ("whatsapp:+569...") or a bare
// number into "+569..." form.
func NormalizePhone(from string) string {
	p := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(from), addressPrefix))
	if p == "" || strings.HasPrefix(p, "+") {
		return p
	}
	return "+" + p
}

func address(phone string) string {
	if strings.HasPrefix(phone, addressPrefix) {
		return phone
	}
	return addressPrefix + NormalizePhone(phone)
}
