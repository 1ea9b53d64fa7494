package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/user/threat-ingestor/internal/domain"
	"github.com/user/threat-ingestor/internal/domain/mocks"
)

func newEnrichHarness(alerts *mocks.MockAlertRepository) *EnrichUseCase {
	locate := newLocateHarness(alerts, mocks.NewMockPlaceCache())
	return NewEnrichUseCase(alerts, NewClassifier(), locate, fallbackScorer(), testLogger(), nil)
}

func rawEvent(source, title, url string, origin domain.Origin) domain.RawEvent {
	return domain.RawEvent{
		SourceID:    source,
		Origin:      origin,
		Title:       title,
		URL:         url,
		PublishedAt: time.Now().UTC().Add(-time.Hour),
		RetrievedAt: time.Now().UTC(),
	}
}

func TestProcessEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("commits an enriched alert", func(t *testing.T) {
		alerts := mocks.NewMockAlertRepository()
		uc := newEnrichHarness(alerts)

		uc.ProcessEvent(ctx, rawEvent("feed-1", "Artillery shelling reported in Kharkiv", "https://example.org/1", domain.OriginFeed))

		if alerts.Count() != 1 {
			t.Fatalf("expected 1 alert, got %d", alerts.Count())
		}
		fp := domain.Fingerprint("Artillery shelling reported in Kharkiv", "https://example.org/1")
		alert, err := alerts.GetByFingerprint(ctx, fp)
		if err != nil {
			t.Fatal(err)
		}
		if alert.Category != CategoryArmedConflict {
			t.Errorf("unexpected category %q", alert.Category)
		}
		if alert.Location == nil || alert.Location.City != "Kharkiv" {
			t.Errorf("expected a gazetteer location, got %+v", alert.Location)
		}
		if alert.SeverityScore <= 0 {
			t.Errorf("expected a positive severity score, got %v", alert.SeverityScore)
		}
		if _, err := uuid.Parse(alert.ID); err != nil {
			t.Errorf("alert id is not a valid UUID: %q", alert.ID)
		}
		if len(alerts.RawEvents) != 1 {
			t.Errorf("raw event not persisted")
		}
	})

	t.Run("cross-source duplicates collapse to one alert", func(t *testing.T) {
		alerts := mocks.NewMockAlertRepository()
		uc := newEnrichHarness(alerts)

		uc.ProcessEvent(ctx, rawEvent("feed-1", "Flood displaces 500", "https://example.org/flood", domain.OriginFeed))
		uc.ProcessEvent(ctx, rawEvent("conflict-db", "Flood displaces 500", "https://example.org/flood", domain.OriginConflictDB))

		if alerts.Count() != 1 {
			t.Fatalf("expected one merged alert, got %d", alerts.Count())
		}
	})

	t.Run("a batch of N events commits at most N alerts", func(t *testing.T) {
		alerts := mocks.NewMockAlertRepository()
		uc := newEnrichHarness(alerts)

		titles := []string{
			"Explosion at the port",
			"Explosion at the port", // duplicate
			"Roads blocked after landslide",
			"Protest turns violent downtown",
			"", // invalid
		}
		for _, title := range titles {
			uc.ProcessEvent(ctx, rawEvent("feed-1", title, "https://example.org/n", domain.OriginFeed))
		}
		if alerts.Count() > len(titles) {
			t.Fatalf("committed more alerts than events: %d > %d", alerts.Count(), len(titles))
		}
		if alerts.Count() != 3 {
			t.Fatalf("expected 3 alerts (one duplicate, one invalid), got %d", alerts.Count())
		}
	})

	t.Run("validation excludes an event without a URL", func(t *testing.T) {
		alerts := mocks.NewMockAlertRepository()
		uc := newEnrichHarness(alerts)

		uc.ProcessEvent(ctx, rawEvent("feed-1", "Explosion at the port", "", domain.OriginFeed))
		if alerts.Count() != 0 {
			t.Fatalf("invalid event committed: %d alerts", alerts.Count())
		}
	})

	t.Run("raw-event persistence failure does not block enrichment", func(t *testing.T) {
		alerts := mocks.NewMockAlertRepository()
		alerts.SaveRawErr = errors.New("connection refused")
		uc := newEnrichHarness(alerts)

		uc.ProcessEvent(ctx, rawEvent("feed-1", "Explosion at the port", "https://example.org/1", domain.OriginFeed))
		if alerts.Count() != 1 {
			t.Fatalf("expected the alert despite the raw-event failure, got %d", alerts.Count())
		}
	})
}

func TestValidate(t *testing.T) {
	uc := newEnrichHarness(mocks.NewMockAlertRepository())

	valid := func() domain.Alert {
		return domain.Alert{
			ID:          uuid.NewString(),
			Fingerprint: "fp",
			Title:       "t",
			URL:         "https://example.org",
			Category:    CategoryUnclassified,
			PublishedAt: time.Now(),
		}
	}

	t.Run("structural defects exclude the alert", func(t *testing.T) {
		cases := []struct {
			field  string
			mutate func(*domain.Alert)
		}{
			{"fingerprint", func(a *domain.Alert) { a.Fingerprint = "" }},
			{"title", func(a *domain.Alert) { a.Title = "" }},
			{"url", func(a *domain.Alert) { a.URL = "" }},
			{"category", func(a *domain.Alert) { a.Category = "" }},
			{"location", func(a *domain.Alert) { a.Location = &domain.GeocodeResult{Latitude: 200, Longitude: 0} }},
		}
		for _, tc := range cases {
			t.Run(tc.field, func(t *testing.T) {
				alert := valid()
				tc.mutate(&alert)
				verr := uc.validate(&alert)
				if verr == nil || verr.Field != tc.field {
					t.Fatalf("expected a %s violation, got %v", tc.field, verr)
				}
			})
		}
	})

	t.Run("a malformed UUID is repaired, not rejected", func(t *testing.T) {
		alert := valid()
		alert.ID = "not-a-uuid"
		if verr := uc.validate(&alert); verr != nil {
			t.Fatalf("unexpected rejection: %v", verr)
		}
		if _, err := uuid.Parse(alert.ID); err != nil {
			t.Fatalf("UUID not repaired: %q", alert.ID)
		}
	})

	t.Run("an out-of-range score is clamped", func(t *testing.T) {
		alert := valid()
		alert.SeverityScore = 250
		if verr := uc.validate(&alert); verr != nil {
			t.Fatalf("unexpected rejection: %v", verr)
		}
		if alert.SeverityScore != 100 {
			t.Fatalf("score not clamped: %v", alert.SeverityScore)
		}
	})

	t.Run("a missing publish time is backfilled", func(t *testing.T) {
		alert := valid()
		alert.PublishedAt = time.Time{}
		if verr := uc.validate(&alert); verr != nil {
			t.Fatalf("unexpected rejection: %v", verr)
		}
		if alert.PublishedAt.IsZero() {
			t.Fatal("publish time not backfilled")
		}
	})
}
