package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/user/threat-ingestor/internal/domain"
)

// PaidGeocoder is the metered commercial geocoder client. It is only
// reached through the resolver's escalation policy; it never appears
// earlier in the chain because every call burns daily quota.
type PaidGeocoder struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// NewPaidGeocoder creates the commercial geocoder client.
func NewPaidGeocoder(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *PaidGeocoder {
	return &PaidGeocoder{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "paid_geocoder"),
	}
}

// Configured reports whether credentials were provided; the resolver skips
// the metered tier entirely without them.
func (g *PaidGeocoder) Configured() bool {
	return g.baseURL != "" && g.apiKey != ""
}

type paidResult struct {
	Results []struct {
		Geometry struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"geometry"`
		Components struct {
			City    string `json:"city"`
			Town    string `json:"town"`
			Country string `json:"country"`
		} `json:"components"`
		Confidence int `json:"confidence"`
	} `json:"results"`
}

// Resolve forward-geocodes via the commercial service. A miss is
// domain.ErrNotFound.
func (g *PaidGeocoder) Resolve(ctx context.Context, place string) (*domain.GeocodeResult, error) {
	query := url.Values{}
	query.Set("q", place)
	query.Set("key", g.apiKey)
	query.Set("limit", "1")
	query.Set("no_annotations", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/geocode/v1/json?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("paid geocoder request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("paid geocoder quota exhausted (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("paid geocoder returned status %d", resp.StatusCode)
	}

	var payload paidResult
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode paid geocoder response: %w", err)
	}
	if len(payload.Results) == 0 {
		return nil, domain.ErrNotFound
	}

	r := payload.Results[0]
	city := r.Components.City
	if city == "" {
		city = r.Components.Town
	}

	return &domain.GeocodeResult{
		Latitude:  r.Geometry.Lat,
		Longitude: r.Geometry.Lng,
		City:      city,
		Country:   r.Components.Country,
		Method:    domain.MethodPaidGeocoder,
	}, nil
}
