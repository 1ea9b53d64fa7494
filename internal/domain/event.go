package domain

import (
	"fmt"
	"time"
)

// Origin identifies which external source produced a raw event.
type Origin string

const (
	OriginFeed         Origin = "feed"
	OriginConflictDB   Origin = "conflict-db"
	OriginGlobalEvents Origin = "global-events"
)

// RawEvent is the canonical source-normalized event shape. Adapters produce
// it, Identity/Dedup consumes it exactly once; it is never mutated after
// creation.
type RawEvent struct {
	SourceID     string    `json:"source_id"`
	Origin       Origin    `json:"origin"`
	Title        string    `json:"title"`
	Body         string    `json:"body,omitempty"`
	URL          string    `json:"url"`
	PublishedAt  time.Time `json:"published_at"`
	LocationHint string    `json:"raw_location_hint,omitempty"`
	Latitude     *float64  `json:"raw_latitude,omitempty"`
	Longitude    *float64  `json:"raw_longitude,omitempty"`
	RetrievedAt  time.Time `json:"retrieved_at"`
}

// HasCoordinates reports whether the source supplied both latitude and
// longitude, regardless of whether they are plausible.
func (e *RawEvent) HasCoordinates() bool {
	return e.Latitude != nil && e.Longitude != nil
}

// ConfidenceTier classifies location quality for downstream consumers.
type ConfidenceTier int

const (
	// TierPrecise requires non-null city, country and coordinates that
	// passed the country/coordinate cross-check.
	TierPrecise ConfidenceTier = 1
	// TierCoarse covers country-centroid-only results. Never promoted to
	// TierPrecise regardless of method.
	TierCoarse ConfidenceTier = 2
	// TierUnverified is everything else, including no match at all.
	TierUnverified ConfidenceTier = 3
)

// GeocodeResult is the outcome of one resolution through the geocode chain.
type GeocodeResult struct {
	Latitude  float64        `json:"latitude"`
	Longitude float64        `json:"longitude"`
	City      string         `json:"city,omitempty"`
	Country   string         `json:"country,omitempty"`
	Method    string         `json:"method"`
	Tier      ConfidenceTier `json:"confidence_tier"`
}

// Location resolution methods persisted on alerts.
const (
	MethodDeterministic  = "deterministic"
	MethodInference      = "inference"
	MethodCache          = "cache"
	MethodPlaceStore     = "place_store"
	MethodFreeGeocoder   = "free_geocoder"
	MethodPaidGeocoder   = "paid_geocoder"
	MethodCentroid       = "country_centroid"
	MethodRawCoordinates = "raw_coordinates"
	MethodQueued         = "queued_for_inference"
	MethodFallback       = "fallback"
)

// BatchPriority orders location batch items. Urgent items force an
// immediate small-batch flush.
type BatchPriority int

const (
	PriorityNormal BatchPriority = 0
	PriorityHigh   BatchPriority = 1
	PriorityUrgent BatchPriority = 2
)

// LocationBatchItem is a queued unit awaiting inference-based location
// extraction. Owned exclusively by the batch manager from enqueue until
// flush or abandonment.
type LocationBatchItem struct {
	ItemID      string        `json:"item_id"`
	Fingerprint string        `json:"fingerprint"`
	TextExcerpt string        `json:"text_excerpt"`
	EnqueuedAt  time.Time     `json:"enqueued_at"`
	Priority    BatchPriority `json:"priority"`
	RetryCount  int           `json:"retry_count"`
}

// ConfidenceComponents is the structured breakdown persisted alongside the
// final severity score so consumers can see how it was derived.
type ConfidenceComponents struct {
	Lexical        float64 `json:"lexical"`
	Mobility       float64 `json:"mobility"`
	Infrastructure float64 `json:"infrastructure"`
	Semantic       float64 `json:"semantic"`
}

// Alert is the final persisted entity: a RawEvent enriched with
// classification, location and threat scoring. Identified by fingerprint;
// re-ingesting the same content updates the existing row in place.
type Alert struct {
	ID             string               `json:"id"`
	Fingerprint    string               `json:"fingerprint"`
	SourceID       string               `json:"source_id"`
	Origin         Origin               `json:"origin"`
	Title          string               `json:"title"`
	Body           string               `json:"body,omitempty"`
	URL            string               `json:"url"`
	PublishedAt    time.Time            `json:"published_at"`
	Category       string               `json:"category"`
	Domains        []string             `json:"domains,omitempty"`
	Location       *GeocodeResult       `json:"location,omitempty"`
	LocationMethod string               `json:"location_method"`
	SeverityScore  float64              `json:"severity_score"`
	Confidence     ConfidenceComponents `json:"confidence_components"`
	EmbeddingUsed  bool                 `json:"embedding_used"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// ValidationError reports the specific constraint an alert violated. The
// orchestrator logs it and excludes the alert from the commit.
type ValidationError struct {
	Field      string
	Constraint string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Constraint)
}

// CoordinatesInRange reports whether lat/lon fall inside valid WGS84 bounds.
func CoordinatesInRange(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// ClampScore forces a severity score into the declared 0-100 range.
func ClampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
