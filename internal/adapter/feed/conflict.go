package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/user/threat-ingestor/internal/domain"
)

// ConflictAdapter pulls bulk rows from the conflict-event database. Access
// requires exchanging credentials for a bearer token; tokens are cached
// until shortly before expiry.
type ConflictAdapter struct {
	baseURL   string
	apiKey    string
	email     string
	countries []string
	lookback  time.Duration
	client    *http.Client
	logger    *slog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewConflictAdapter creates the conflict-event database adapter.
func NewConflictAdapter(baseURL, apiKey, email string, countries []string, lookback, timeout time.Duration, logger *slog.Logger) *ConflictAdapter {
	return &ConflictAdapter{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		email:     email,
		countries: countries,
		lookback:  lookback,
		client:    newHTTPClient(timeout),
		logger:    logger.With("component", "conflict_adapter"),
	}
}

func (a *ConflictAdapter) Name() string { return "conflict-db" }

type conflictRow struct {
	EventID   string `json:"event_id_cnty"`
	EventDate string `json:"event_date"`
	EventType string `json:"event_type"`
	SubType   string `json:"sub_event_type"`
	Country   string `json:"country"`
	Location  string `json:"location"`
	Notes     string `json:"notes"`
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
	SourceURL string `json:"source"`
}

type conflictResponse struct {
	Count int           `json:"count"`
	Data  []conflictRow `json:"data"`
}

// Fetch queries the conflict database for the configured countries over the
// lookback window. Malformed rows are skipped and logged.
func (a *ConflictAdapter) Fetch(ctx context.Context) ([]domain.RawEvent, error) {
	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("conflict-db auth failed: %w", err)
	}

	since := time.Now().UTC().Add(-a.lookback).Format("2006-01-02")
	query := url.Values{}
	query.Set("event_date", since)
	query.Set("event_date_where", ">=")
	if len(a.countries) > 0 {
		query.Set("country", strings.Join(a.countries, "|"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/acled/read?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("conflict-db fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("conflict-db returned status %d", resp.StatusCode)
	}

	var payload conflictResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode conflict-db response: %w", err)
	}

	now := time.Now().UTC()
	events := make([]domain.RawEvent, 0, len(payload.Data))
	for _, row := range payload.Data {
		event, err := a.normalize(row, now)
		if err != nil {
			a.logger.Warn("skipping malformed conflict row", "error", err, "event_id", row.EventID)
			continue
		}
		events = append(events, event)
	}

	return events, nil
}

func (a *ConflictAdapter) normalize(row conflictRow, now time.Time) (domain.RawEvent, error) {
	if row.EventID == "" {
		return domain.RawEvent{}, fmt.Errorf("row has no event id")
	}
	if row.EventType == "" && row.Notes == "" {
		return domain.RawEvent{}, fmt.Errorf("row has neither event type nor notes")
	}

	published := now
	if row.EventDate != "" {
		if t, err := time.Parse("2006-01-02", row.EventDate); err == nil {
			published = t
		}
	}

	title := row.EventType
	if row.SubType != "" {
		title = fmt.Sprintf("%s: %s", row.EventType, row.SubType)
	}
	if row.Location != "" {
		title = fmt.Sprintf("%s in %s", title, row.Location)
	}

	event := domain.RawEvent{
		SourceID:     "conflict-db",
		Origin:       domain.OriginConflictDB,
		Title:        title,
		Body:         row.Notes,
		URL:          conflictEventURL(row),
		PublishedAt:  published.UTC(),
		LocationHint: strings.TrimSpace(strings.Join(nonEmpty(row.Location, row.Country), ", ")),
		RetrievedAt:  now,
	}

	if lat, err := strconv.ParseFloat(row.Latitude, 64); err == nil {
		if lon, err := strconv.ParseFloat(row.Longitude, 64); err == nil {
			event.Latitude = &lat
			event.Longitude = &lon
		}
	}

	return event, nil
}

// conflictEventURL synthesizes a stable per-row URL so fingerprinting works
// even though the upstream rows have no canonical link of their own.
func conflictEventURL(row conflictRow) string {
	if u := strings.TrimSpace(row.SourceURL); strings.HasPrefix(u, "http") {
		return u
	}
	return "conflict-db://event/" + row.EventID
}

// accessToken returns a cached bearer token, exchanging credentials when the
// cache is empty or near expiry.
func (a *ConflictAdapter) accessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && time.Now().Before(a.tokenExpiry.Add(-1*time.Minute)) {
		return a.token, nil
	}

	form := url.Values{}
	form.Set("username", a.email)
	form.Set("password", a.apiKey)
	form.Set("grant_type", "password")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("token exchange returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("token response contained no access token")
	}

	a.token = tokenResp.AccessToken
	a.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	return a.token, nil
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}
