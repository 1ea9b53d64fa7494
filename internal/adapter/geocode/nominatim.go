package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/user/threat-ingestor/internal/domain"
)

// FreeGeocoder is the public forward-geocoder client. The upstream service
// enforces roughly one request per second, so every call waits on a local
// rate limiter before touching the network.
type FreeGeocoder struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewFreeGeocoder creates a rate-limited free geocoder client.
func NewFreeGeocoder(baseURL string, rps float64, timeout time.Duration, logger *slog.Logger) *FreeGeocoder {
	if rps <= 0 {
		rps = 1
	}
	return &FreeGeocoder{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger.With("component", "free_geocoder"),
	}
}

type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Address     struct {
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
		Country string `json:"country"`
	} `json:"address"`
}

// Resolve forward-geocodes a place name. A miss is domain.ErrNotFound; any
// transport or rate-limit failure is returned as an error and treated as a
// transient source error by the caller.
func (g *FreeGeocoder) Resolve(ctx context.Context, place string) (*domain.GeocodeResult, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("q", place)
	query.Set("format", "json")
	query.Set("limit", "1")
	query.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/search?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "threat-ingestor/1.0")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("free geocoder request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("free geocoder rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("free geocoder returned status %d", resp.StatusCode)
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("failed to decode free geocoder response: %w", err)
	}
	if len(results) == 0 {
		return nil, domain.ErrNotFound
	}

	r := results[0]
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("free geocoder returned bad latitude %q", r.Lat)
	}
	lon, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("free geocoder returned bad longitude %q", r.Lon)
	}

	city := r.Address.City
	if city == "" {
		city = r.Address.Town
	}
	if city == "" {
		city = r.Address.Village
	}

	return &domain.GeocodeResult{
		Latitude:  lat,
		Longitude: lon,
		City:      city,
		Country:   r.Address.Country,
		Method:    domain.MethodFreeGeocoder,
	}, nil
}
