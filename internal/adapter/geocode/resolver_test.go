package geocode

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/threat-ingestor/internal/domain"
	"github.com/user/threat-ingestor/internal/domain/mocks"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sequenceSampler returns the given values in order, repeating the last one.
func sequenceSampler(values ...float64) func() float64 {
	i := 0
	return func() float64 {
		v := values[i]
		if i < len(values)-1 {
			i++
		}
		return v
	}
}

// newPaidServer serves a fixed OpenCage-shaped response and counts calls.
func newPaidServer(t *testing.T, city, country string, lat, lng float64) (*PaidGeocoder, *atomic.Int32, func()) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		payload := `{"results": [{"geometry": {"lat": ` + formatFloat(lat) + `, "lng": ` + formatFloat(lng) + `},
			"components": {"city": "` + city + `", "country": "` + country + `"}, "confidence": 9}]}`
		w.Write([]byte(payload))
	}))
	paid := NewPaidGeocoder(server.URL, "test-key", time.Second, testLogger())
	return paid, &calls, server.Close
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func newTestResolver(hot, durable domain.PlaceCacheRepository, paid *PaidGeocoder) *Resolver {
	r := NewResolver(hot, durable, nil, paid, NewGazetteer(), 0.01, 0.10, testLogger(), nil)
	r.SetSampler(sequenceSampler(1.0))
	return r
}

func TestResolverChain(t *testing.T) {
	ctx := context.Background()

	t.Run("hot cache hit short-circuits the chain", func(t *testing.T) {
		hot := mocks.NewMockPlaceCache()
		hot.Places["goma"] = domain.GeocodeResult{
			Latitude: -1.6585, Longitude: 29.2204,
			City: "Goma", Country: "DR Congo", Method: domain.MethodFreeGeocoder,
		}
		durable := mocks.NewMockPlaceCache()
		r := newTestResolver(hot, durable, nil)

		result, err := r.Resolve(ctx, Query{Place: "goma"})
		if err != nil || result == nil {
			t.Fatalf("unexpected outcome: %v, %v", result, err)
		}
		if result.City != "Goma" {
			t.Fatalf("unexpected result: %+v", result)
		}
		if durable.Lookups != 0 {
			t.Fatal("durable store must not be consulted after a hot cache hit")
		}
	})

	t.Run("falls through to the durable store on a cache miss", func(t *testing.T) {
		hot := mocks.NewMockPlaceCache()
		durable := mocks.NewMockPlaceCache()
		durable.Places["goma"] = domain.GeocodeResult{
			Latitude: -1.6585, Longitude: 29.2204,
			City: "Goma", Country: "DR Congo", Method: domain.MethodFreeGeocoder,
		}
		r := newTestResolver(hot, durable, nil)

		result, err := r.Resolve(ctx, Query{Place: "goma"})
		if err != nil || result == nil {
			t.Fatalf("unexpected outcome: %v, %v", result, err)
		}
		if hot.Lookups != 1 || durable.Lookups != 1 {
			t.Fatalf("expected both tiers consulted, got %d and %d lookups", hot.Lookups, durable.Lookups)
		}
	})

	t.Run("a failing tier is skipped, not fatal", func(t *testing.T) {
		hot := mocks.NewMockPlaceCache()
		hot.LookupErr = errors.New("connection refused")
		durable := mocks.NewMockPlaceCache()
		durable.Places["goma"] = domain.GeocodeResult{
			Latitude: -1.6585, Longitude: 29.2204,
			City: "Goma", Country: "DR Congo", Method: domain.MethodFreeGeocoder,
		}
		r := newTestResolver(hot, durable, nil)

		result, err := r.Resolve(ctx, Query{Place: "goma"})
		if err != nil || result == nil {
			t.Fatalf("a broken cache must not break resolution: %v, %v", result, err)
		}
	})

	t.Run("unresolvable query returns nil without error", func(t *testing.T) {
		r := newTestResolver(mocks.NewMockPlaceCache(), mocks.NewMockPlaceCache(), nil)
		result, err := r.Resolve(ctx, Query{})
		if result != nil || err != nil {
			t.Fatalf("expected nil, nil, got %v, %v", result, err)
		}
	})

	t.Run("bare trusted coordinates resolve unverified and uncached", func(t *testing.T) {
		hot := mocks.NewMockPlaceCache()
		r := newTestResolver(hot, mocks.NewMockPlaceCache(), nil)
		lat, lon := 48.2082, 16.3738
		result, err := r.Resolve(ctx, Query{Latitude: &lat, Longitude: &lon})
		if err != nil || result == nil {
			t.Fatalf("unexpected outcome: %v, %v", result, err)
		}
		if result.Method != domain.MethodRawCoordinates || result.Tier != domain.TierUnverified {
			t.Fatalf("expected unverified raw coordinates, got %+v", result)
		}
		if hot.Stores != 0 {
			t.Fatal("unverified results must not be cached")
		}
	})

	t.Run("verified results are written back to both caches", func(t *testing.T) {
		hot := mocks.NewMockPlaceCache()
		durable := mocks.NewMockPlaceCache()
		durable.Places["goma"] = domain.GeocodeResult{
			Latitude: -1.6585, Longitude: 29.2204,
			City: "Goma", Country: "DR Congo", Method: domain.MethodFreeGeocoder,
		}
		r := newTestResolver(hot, durable, nil)

		if _, err := r.Resolve(ctx, Query{Place: "goma"}); err != nil {
			t.Fatal(err)
		}
		if hot.Stores != 1 || durable.Stores != 1 {
			t.Fatalf("expected write-back to both caches, got %d and %d stores", hot.Stores, durable.Stores)
		}
	})
}

func TestResolverEscalation(t *testing.T) {
	ctx := context.Background()

	t.Run("escalates a named place the free tiers cannot place", func(t *testing.T) {
		paid, calls, closeServer := newPaidServer(t, "Goma", "DR Congo", -1.6585, 29.2204)
		defer closeServer()
		r := newTestResolver(mocks.NewMockPlaceCache(), mocks.NewMockPlaceCache(), paid)

		result, err := r.Resolve(ctx, Query{Place: "goma"})
		if err != nil || result == nil {
			t.Fatalf("unexpected outcome: %v, %v", result, err)
		}
		if calls.Load() != 1 {
			t.Fatalf("expected one metered call, got %d", calls.Load())
		}
		if result.Method != domain.MethodPaidGeocoder || result.Tier != domain.TierPrecise {
			t.Fatalf("expected a precise paid result, got %+v", result)
		}
	})

	t.Run("escalates a city missing its country", func(t *testing.T) {
		paid, calls, closeServer := newPaidServer(t, "Goma", "DR Congo", -1.6585, 29.2204)
		defer closeServer()
		durable := mocks.NewMockPlaceCache()
		durable.Places["goma"] = domain.GeocodeResult{
			Latitude: -1.6585, Longitude: 29.2204,
			City: "Goma", Method: domain.MethodFreeGeocoder,
		}
		r := newTestResolver(mocks.NewMockPlaceCache(), durable, paid)

		result, err := r.Resolve(ctx, Query{Place: "goma"})
		if err != nil || result == nil {
			t.Fatalf("unexpected outcome: %v, %v", result, err)
		}
		if calls.Load() != 1 {
			t.Fatalf("expected one metered call, got %d", calls.Load())
		}
		if result.Country != "DR Congo" {
			t.Fatalf("escalation must fill the country, got %+v", result)
		}
	})

	t.Run("quality-assurance sample escalates a complete result", func(t *testing.T) {
		paid, calls, closeServer := newPaidServer(t, "Goma", "DR Congo", -1.6585, 29.2204)
		defer closeServer()
		durable := mocks.NewMockPlaceCache()
		durable.Places["goma"] = domain.GeocodeResult{
			Latitude: -1.6585, Longitude: 29.2204,
			City: "Goma", Country: "DR Congo", Method: domain.MethodFreeGeocoder,
		}
		r := newTestResolver(mocks.NewMockPlaceCache(), durable, paid)
		r.SetSampler(sequenceSampler(0.0))

		if _, err := r.Resolve(ctx, Query{Place: "goma"}); err != nil {
			t.Fatal(err)
		}
		if calls.Load() != 1 {
			t.Fatalf("expected one QA-sampled call, got %d", calls.Load())
		}
	})

	t.Run("weak-method sample escalates a centroid result", func(t *testing.T) {
		paid, calls, closeServer := newPaidServer(t, "Goma", "DR Congo", -1.6585, 29.2204)
		defer closeServer()
		durable := mocks.NewMockPlaceCache()
		durable.Places["eastern congo"] = domain.GeocodeResult{
			Latitude: -4.0383, Longitude: 21.7587,
			Country: "DR Congo", Method: domain.MethodCentroid,
		}
		r := newTestResolver(mocks.NewMockPlaceCache(), durable, paid)
		// First draw misses the QA sample, second lands in the weak-method
		// sample window.
		r.SetSampler(sequenceSampler(0.5, 0.05))

		if _, err := r.Resolve(ctx, Query{Place: "eastern congo"}); err != nil {
			t.Fatal(err)
		}
		if calls.Load() != 1 {
			t.Fatalf("expected one weak-method sampled call, got %d", calls.Load())
		}
	})

	t.Run("coordinate-only queries never spend a metered call", func(t *testing.T) {
		paid, calls, closeServer := newPaidServer(t, "Goma", "DR Congo", -1.6585, 29.2204)
		defer closeServer()
		r := newTestResolver(mocks.NewMockPlaceCache(), mocks.NewMockPlaceCache(), paid)
		r.SetSampler(sequenceSampler(0.0)) // sampler alone must not trigger it

		lat, lon := -1.6585, 29.2204
		result, err := r.Resolve(ctx, Query{Latitude: &lat, Longitude: &lon})
		if err != nil || result == nil {
			t.Fatalf("unexpected outcome: %v, %v", result, err)
		}
		if calls.Load() != 0 {
			t.Fatalf("empty place name reached the metered geocoder %d times", calls.Load())
		}
	})

	t.Run("complete precise results stay on the free tiers", func(t *testing.T) {
		paid, calls, closeServer := newPaidServer(t, "Goma", "DR Congo", -1.6585, 29.2204)
		defer closeServer()
		durable := mocks.NewMockPlaceCache()
		durable.Places["goma"] = domain.GeocodeResult{
			Latitude: -1.6585, Longitude: 29.2204,
			City: "Goma", Country: "DR Congo", Method: domain.MethodFreeGeocoder,
		}
		r := newTestResolver(mocks.NewMockPlaceCache(), durable, paid)

		if _, err := r.Resolve(ctx, Query{Place: "goma"}); err != nil {
			t.Fatal(err)
		}
		if calls.Load() != 0 {
			t.Fatalf("no escalation condition held, yet the metered geocoder saw %d calls", calls.Load())
		}
	})
}

func TestApplyGate(t *testing.T) {
	r := newTestResolver(nil, nil, nil)

	cases := []struct {
		name   string
		result domain.GeocodeResult
		want   domain.ConfidenceTier
	}{
		{
			"precise method with verified city and country",
			domain.GeocodeResult{Latitude: 50.45, Longitude: 30.52, City: "Kyiv", Country: "Ukraine", Method: domain.MethodInference},
			domain.TierPrecise,
		},
		{
			"country centroid is capped at tier 2",
			domain.GeocodeResult{Latitude: 48.38, Longitude: 31.17, Country: "Ukraine", Method: domain.MethodCentroid},
			domain.TierCoarse,
		},
		{
			"city-less result is coarse",
			domain.GeocodeResult{Latitude: 48.38, Longitude: 31.17, Country: "Ukraine", Method: domain.MethodFreeGeocoder},
			domain.TierCoarse,
		},
		{
			"failing the country cross-check demotes to unverified",
			domain.GeocodeResult{Latitude: -33.9, Longitude: 18.4, City: "Kyiv", Country: "Ukraine", Method: domain.MethodInference},
			domain.TierUnverified,
		},
		{
			"imprecise method never reaches tier 1",
			domain.GeocodeResult{Latitude: 50.45, Longitude: 30.52, City: "Kyiv", Country: "Ukraine", Method: domain.MethodRawCoordinates},
			domain.TierUnverified,
		},
		{
			"no country claim is unverified",
			domain.GeocodeResult{Latitude: 50.45, Longitude: 30.52, Method: domain.MethodRawCoordinates},
			domain.TierUnverified,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := tc.result
			r.ApplyGate(&result)
			if result.Tier != tc.want {
				t.Errorf("expected tier %d, got %d", tc.want, result.Tier)
			}
		})
	}
}
