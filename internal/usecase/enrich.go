package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/user/threat-ingestor/internal/adapter/metrics"
	"github.com/user/threat-ingestor/internal/domain"
)

// EnrichUseCase is the orchestrator: it sequences classification, location
// resolution and threat scoring per event, validates the resulting record
// and commits it through the idempotent upsert. A batch of N events commits
// at most N alerts, and an event that passed validation is never silently
// dropped.
type EnrichUseCase struct {
	alerts     domain.AlertRepository
	classifier *Classifier
	locate     *LocateUseCase
	scorer     *Scorer
	logger     *slog.Logger
	metrics    *metrics.PipelineMetrics
}

// NewEnrichUseCase creates the orchestrator.
func NewEnrichUseCase(alerts domain.AlertRepository, classifier *Classifier, locate *LocateUseCase, scorer *Scorer, logger *slog.Logger, m *metrics.PipelineMetrics) *EnrichUseCase {
	return &EnrichUseCase{
		alerts:     alerts,
		classifier: classifier,
		locate:     locate,
		scorer:     scorer,
		logger:     logger.With("component", "enrich"),
		metrics:    m,
	}
}

// ProcessEvent runs the full enrichment sequence for one raw event. Events
// that fail validation are logged with the violated constraint and excluded
// from the commit; they are not retried within the cycle.
func (uc *EnrichUseCase) ProcessEvent(ctx context.Context, event domain.RawEvent) {
	fingerprint := domain.FingerprintEvent(&event)

	if err := uc.alerts.SaveRawEvent(ctx, fingerprint, event); err != nil {
		uc.logger.Error("failed to persist raw event", "fingerprint", fingerprint, "error", err)
		// Enrichment still proceeds; the raw-event table is diagnostic.
	}

	category, domains := uc.classifier.Classify(event.Title, event.Body)
	priority := priorityFor(category)

	location, method, queued := uc.locate.Resolve(ctx, &event, fingerprint)

	score, components, embeddingUsed := uc.scorer.Score(ctx, event.Title, event.Body, category)

	alert := domain.Alert{
		ID:             uuid.NewString(),
		Fingerprint:    fingerprint,
		SourceID:       event.SourceID,
		Origin:         event.Origin,
		Title:          event.Title,
		Body:           event.Body,
		URL:            event.URL,
		PublishedAt:    event.PublishedAt,
		Category:       category,
		Domains:        domains,
		Location:       location,
		LocationMethod: method,
		SeverityScore:  score,
		Confidence:     components,
		EmbeddingUsed:  embeddingUsed,
	}

	if verr := uc.validate(&alert); verr != nil {
		uc.logger.Warn("alert failed validation, excluded from commit",
			"fingerprint", fingerprint, "field", verr.Field, "constraint", verr.Constraint)
		if uc.metrics != nil {
			uc.metrics.ValidationFailed.WithLabelValues(verr.Field).Inc()
		}
		return
	}

	if err := uc.alerts.Upsert(ctx, alert); err != nil {
		uc.logger.Error("failed to commit alert", "fingerprint", fingerprint, "error", err)
		return
	}

	if uc.metrics != nil {
		uc.metrics.AlertsCommitted.Inc()
	}

	// The batch item is enqueued only after the provisional row exists, so
	// a flush can never race an insert.
	if queued {
		uc.locate.Queue(ctx, &event, fingerprint, priority)
	}

	uc.logger.Debug("alert committed",
		"fingerprint", fingerprint, "category", category, "score", score,
		"location_method", method, "queued", queued)
}

// validate enforces the commit contract. Repairable defects (malformed
// UUID, out-of-range score) are normalized in place; structural defects
// exclude the alert.
func (uc *EnrichUseCase) validate(alert *domain.Alert) *domain.ValidationError {
	if alert.Fingerprint == "" {
		return &domain.ValidationError{Field: "fingerprint", Constraint: "must be non-empty"}
	}
	if alert.Title == "" {
		return &domain.ValidationError{Field: "title", Constraint: "must be non-empty"}
	}
	if alert.URL == "" {
		return &domain.ValidationError{Field: "url", Constraint: "must be non-empty"}
	}
	if alert.Category == "" {
		return &domain.ValidationError{Field: "category", Constraint: "must be non-empty"}
	}

	// Malformed UUIDs are regenerated, not rejected.
	if _, err := uuid.Parse(alert.ID); err != nil {
		alert.ID = uuid.NewString()
	}

	alert.SeverityScore = domain.ClampScore(alert.SeverityScore)

	if alert.Location != nil && !domain.CoordinatesInRange(alert.Location.Latitude, alert.Location.Longitude) {
		return &domain.ValidationError{Field: "location", Constraint: "coordinates out of range"}
	}

	if alert.PublishedAt.IsZero() {
		alert.PublishedAt = time.Now().UTC()
	}

	return nil
}

// priorityFor maps classification to batch priority: active-violence
// categories jump the inference queue.
func priorityFor(category string) domain.BatchPriority {
	switch category {
	case CategoryArmedConflict, CategoryTerrorism:
		return domain.PriorityUrgent
	case CategoryNaturalDisaster, CategoryCivilUnrest:
		return domain.PriorityHigh
	default:
		return domain.PriorityNormal
	}
}
