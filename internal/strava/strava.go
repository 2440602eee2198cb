// Package strava links a user's Strava account and mirrors their
// recent activities into the coach store.
package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/coach-ai-agent/internal/httpkit"
	"github.com/nugget/coach-ai-agent/internal/store"
)

const (
	defaultAuthorizeURL = "https://www.strava.com/oauth/authorize"
	defaultTokenURL     = "https://www.strava.com/oauth/token"
	defaultAPIBase      = "https://www.strava.com/api/v3"

	scopes = "read,activity:read_all,profile:read_all"

	// refreshSkew renews tokens this long before they expire.
	refreshSkew = 60 * time.Second

	// SyncPageSize is how many recent activities one sync fetches.
	SyncPageSize = 30
)

var (
	// ErrNotConfigured means no Strava application credentials are set.
	ErrNotConfigured = errors.New("strava is not configured")

	// ErrNotConnected means the user has not linked a Strava account, or
	// the stored credentials can no longer be refreshed.
	ErrNotConnected = errors.New("strava account not connected")
)

// Config holds the Strava application credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Client talks to the Strava API on behalf of stored users.
type Client struct {
	cfg        Config
	store      *store.Store
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	authorizeURL string
	tokenURL     string
	apiBase      string
}

// New creates a Strava client backed by st.
func New(cfg Config, st *store.Store, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:          cfg,
		store:        st,
		httpClient:   httpkit.NewClient(httpkit.WithTimeout(20 * time.Second)),
		logger:       logger.With("component", "strava"),
		now:          time.Now,
		authorizeURL: defaultAuthorizeURL,
		tokenURL:     defaultTokenURL,
		apiBase:      defaultAPIBase,
	}
}

// Configured reports whether application credentials are present.
func (c *Client) Configured() bool {
	return c.cfg.ClientID != ""
}

// AuthorizeURL returns the link a user opens to grant access. The user
// id travels in the OAuth state and comes back to the callback.
func (c *Client) AuthorizeURL(userID int64) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("redirect_uri", c.cfg.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", scopes)
	q.Set("approval_prompt", "auto")
	q.Set("state", strconv.FormatInt(userID, 10))
	return c.authorizeURL + "?" + q.Encode(), nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

func (c *Client) requestToken(ctx context.Context, form url.Values) (*tokenResponse, error) {
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, errors.New("token response missing access_token")
	}
	return &tok, nil
}

// Exchange trades an OAuth authorization code for tokens and stores
// them for userID, replacing any previous link.
func (c *Client) Exchange(ctx context.Context, code string, userID int64) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	form := url.Values{}
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")

	tok, err := c.requestToken(ctx, form)
	if err != nil {
		return err
	}
	return c.store.SaveStravaToken(store.StravaToken{
		UserID:       userID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    time.Unix(tok.ExpiresAt, 0),
	})
}

// AccessToken returns a usable access token for userID, refreshing it
// when it expires within a minute.
func (c *Client) AccessToken(ctx context.Context, userID int64) (string, error) {
	stored, err := c.store.StravaToken(userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNotConnected
	}
	if err != nil {
		return "", err
	}
	if stored.ExpiresAt.After(c.now().Add(refreshSkew)) {
		return stored.AccessToken, nil
	}
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", stored.RefreshToken)
	tok, err := c.requestToken(ctx, form)
	if err != nil {
		c.logger.Warn("strava token refresh failed", "user_id", userID, "error", err)
		return "", fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	if tok.RefreshToken == "" {
		tok.RefreshToken = stored.RefreshToken
	}
	if err := c.store.SaveStravaToken(store.StravaToken{
		UserID:       userID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    time.Unix(tok.ExpiresAt, 0),
	}); err != nil {
		return "", err
	}
	c.logger.Debug("strava token refreshed", "user_id", userID)
	return tok.AccessToken, nil
}

// APIActivity is the subset of a Strava activity the coach uses.
type APIActivity struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	StartDate    string  `json:"start_date"`
	Distance     float64 `json:"distance"`
	MovingTime   int     `json:"moving_time"`
	ElapsedTime  int     `json:"elapsed_time"`
	AverageSpeed float64 `json:"average_speed"`
}

// Activities fetches the user's most recent activities.
func (c *Client) Activities(ctx context.Context, userID int64, perPage int) ([]APIActivity, error) {
	token, err := c.AccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/athlete/activities?per_page=%d&page=1", c.apiBase, perPage)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("strava API returned %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var acts []APIActivity
	if err := json.NewDecoder(resp.Body).Decode(&acts); err != nil {
		return nil, fmt.Errorf("decode activities: %w", err)
	}
	return acts, nil
}

// Sync mirrors recent activities into the store and returns the ones
// that were not stored before.
func (c *Client) Sync(ctx context.Context, userID int64) ([]store.Activity, error) {
	acts, err := c.Activities(ctx, userID, SyncPageSize)
	if err != nil {
		return nil, err
	}

	var added []store.Activity
	for _, a := range acts {
		row := toStoreActivity(userID, a)
		inserted, err := c.store.InsertActivity(row)
		if err != nil {
			return added, err
		}
		if inserted {
			added = append(added, row)
		}
	}
	c.logger.Info("strava sync complete", "user_id", userID, "fetched", len(acts), "new", len(added))
	return added, nil
}

func toStoreActivity(userID int64, a APIActivity) store.Activity {
	name := a.Name
	if name == "" {
		name = "Sin nombre"
	}
	typ := a.Type
	if typ == "" {
		typ = "Run"
	}
	return store.Activity{
		UserID:       userID,
		StravaID:     strconv.FormatInt(a.ID, 10),
		Name:         name,
		Type:         typ,
		StartDate:    a.StartDate,
		DistanceM:    a.Distance,
		MovingTimeS:  a.MovingTime,
		ElapsedTimeS: a.ElapsedTime,
		Summary:      Summary(a),
	}
}

type activitySummary struct {
	DistanceKm string  `json:"distance_km"`
	Pace       *string `json:"pace"`
}

// Summary renders distance and pace as a compact JSON object.
func Summary(a APIActivity) string {
	s := activitySummary{DistanceKm: strconv.FormatFloat(a.Distance/1000, 'f', 2, 64)}
	if a.AverageSpeed > 0 {
		pace := strconv.FormatFloat(1000/a.AverageSpeed/60, 'f', 1, 64) + " min/km"
		s.Pace = &pace
	}
	raw, _ := json.Marshal(s)
	return string(raw)
}
