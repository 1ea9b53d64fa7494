package geocode

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strconv"

	"github.com/user/threat-ingestor/internal/adapter/metrics"
	"github.com/user/threat-ingestor/internal/domain"
)

// Query is the input to the resolver: a place name and whatever coordinates
// the source supplied.
type Query struct {
	Place     string
	Latitude  *float64
	Longitude *float64
}

// HasValidCoordinates reports whether the query carries in-range
// coordinates.
func (q Query) HasValidCoordinates() bool {
	return q.Latitude != nil && q.Longitude != nil &&
		domain.CoordinatesInRange(*q.Latitude, *q.Longitude) &&
		!(*q.Latitude == 0 && *q.Longitude == 0)
}

// preciseMethods is the allow-list of methods eligible for tier 1.
var preciseMethods = map[string]struct{}{
	domain.MethodDeterministic: {},
	domain.MethodInference:     {},
	domain.MethodFreeGeocoder:  {},
	domain.MethodPaidGeocoder:  {},
}

// weakMethods are known-coarse methods subject to the weak-method QA sample.
var weakMethods = map[string]struct{}{
	domain.MethodCentroid: {},
}

// strategy is one tier of the fallback chain. A miss is reported as
// domain.ErrNotFound; any other error is transient and skips to the next
// tier.
type strategy struct {
	name    string
	attempt func(ctx context.Context, place string) (*domain.GeocodeResult, error)
}

// Resolver walks the ordered geocode chain: hot cache, durable place store,
// free public geocoder, and finally the metered commercial geocoder when
// one of the escalation conditions holds. Ordering exists to conserve the
// metered daily quota while still catching outright errors via sampling.
type Resolver struct {
	hot      domain.PlaceCacheRepository
	durable  domain.PlaceCacheRepository
	free     *FreeGeocoder
	paid     *PaidGeocoder
	gaz      *Gazetteer
	qaRate   float64
	weakRate float64
	rng      func() float64
	logger   *slog.Logger
	metrics  *metrics.PipelineMetrics
}

// NewResolver builds the resolver. hot may be nil (no redis); paid may be
// unconfigured, in which case escalation is a no-op.
func NewResolver(hot, durable domain.PlaceCacheRepository, free *FreeGeocoder, paid *PaidGeocoder, gaz *Gazetteer, qaRate, weakRate float64, logger *slog.Logger, m *metrics.PipelineMetrics) *Resolver {
	return &Resolver{
		hot:      hot,
		durable:  durable,
		free:     free,
		paid:     paid,
		gaz:      gaz,
		qaRate:   qaRate,
		weakRate: weakRate,
		rng:      rand.Float64,
		logger:   logger.With("component", "geocode_resolver"),
		metrics:  m,
	}
}

// SetSampler overrides the escalation sampler; tests use it to force or
// suppress sampling deterministically.
func (r *Resolver) SetSampler(rng func() float64) { r.rng = rng }

// Resolve runs the chain for a query, applies the quality gate, and caches
// the outcome. A nil result with nil error means no tier matched; the
// caller falls back to method=fallback.
func (r *Resolver) Resolve(ctx context.Context, q Query) (*domain.GeocodeResult, error) {
	result := r.runChain(ctx, q)

	// Escalate to the metered geocoder only under the documented
	// conditions; everything else stays at whatever the free tiers gave.
	if r.shouldEscalate(q, result) && r.paid != nil && r.paid.Configured() {
		paid, err := r.paid.Resolve(ctx, q.Place)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("paid geocoder escalation failed", "place", q.Place, "error", err)
		}
		if paid != nil {
			result = paid
		}
	}

	// A query with trusted coordinates but no name at all resolves to the
	// bare coordinates, unverified.
	if result == nil && q.HasValidCoordinates() {
		result = &domain.GeocodeResult{
			Latitude:  *q.Latitude,
			Longitude: *q.Longitude,
			Method:    domain.MethodRawCoordinates,
		}
	}

	if result == nil {
		return nil, nil
	}

	r.ApplyGate(result)
	r.record(result)
	r.cache(ctx, q.Place, *result)
	return result, nil
}

func (r *Resolver) runChain(ctx context.Context, q Query) *domain.GeocodeResult {
	if q.Place == "" {
		return nil
	}

	chain := []strategy{}
	if r.hot != nil {
		chain = append(chain, strategy{domain.MethodCache, r.hot.Lookup})
	}
	if r.durable != nil {
		chain = append(chain, strategy{domain.MethodPlaceStore, r.durable.Lookup})
	}
	if r.free != nil {
		chain = append(chain, strategy{domain.MethodFreeGeocoder, r.free.Resolve})
	}

	for _, tier := range chain {
		result, err := tier.attempt(ctx, q.Place)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			r.logger.Warn("geocode tier failed, trying next", "tier", tier.name, "place", q.Place, "error", err)
			continue
		}
		if result != nil {
			return result
		}
	}
	return nil
}

// shouldEscalate implements the four escalation conditions for the metered
// geocoder. Coordinate-only queries never escalate: there is no place name
// to spend a metered call on.
func (r *Resolver) shouldEscalate(q Query, current *domain.GeocodeResult) bool {
	if q.Place == "" {
		return false
	}
	// (i) named place with invalid or missing coordinates.
	if !q.HasValidCoordinates() && current == nil {
		return true
	}
	// (ii) named city but no country.
	if current != nil && current.City != "" && current.Country == "" {
		return true
	}
	// (iii) small always-on quality-assurance sample.
	if r.rng() < r.qaRate {
		return true
	}
	// (iv) larger sample of known-coarse methods.
	if current != nil {
		if _, weak := weakMethods[current.Method]; weak && r.rng() < r.weakRate {
			return true
		}
	}
	return false
}

// ApplyGate assigns the confidence tier. Tier 1 demands non-null city,
// country and coordinates, a passing country/coordinate cross-check, and a
// method from the precise allow-list. Country-centroid results are strictly
// tier 2. Everything else is tier 3.
func (r *Resolver) ApplyGate(result *domain.GeocodeResult) {
	if result.City != "" && result.Country != "" &&
		domain.CoordinatesInRange(result.Latitude, result.Longitude) &&
		r.gaz.CountryContains(result.Country, result.Latitude, result.Longitude) {
		if _, precise := preciseMethods[result.Method]; precise {
			result.Tier = domain.TierPrecise
			return
		}
	}

	if result.Country != "" && (result.Method == domain.MethodCentroid || result.City == "") &&
		domain.CoordinatesInRange(result.Latitude, result.Longitude) {
		result.Tier = domain.TierCoarse
		return
	}

	result.Tier = domain.TierUnverified
}

func (r *Resolver) record(result *domain.GeocodeResult) {
	if r.metrics == nil {
		return
	}
	r.metrics.GeocodeTotal.WithLabelValues(result.Method).Inc()
	r.metrics.GeocodeTier.WithLabelValues(strconv.Itoa(int(result.Tier))).Inc()
}

func (r *Resolver) cache(ctx context.Context, place string, result domain.GeocodeResult) {
	if place == "" || result.Tier == domain.TierUnverified {
		return
	}
	if r.hot != nil {
		if err := r.hot.Store(ctx, place, result); err != nil {
			r.logger.Warn("failed to store place in hot cache", "place", place, "error", err)
		}
	}
	if r.durable != nil {
		if err := r.durable.Store(ctx, place, result); err != nil {
			r.logger.Warn("failed to store place in durable cache", "place", place, "error", err)
		}
	}
}
