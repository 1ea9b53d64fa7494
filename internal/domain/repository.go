package domain

import "context"

// AlertRepository defines persistence for raw events and enriched alerts.
// Implementations must make Upsert atomic per fingerprint: two concurrent
// callers with the same fingerprint produce exactly one row.
type AlertRepository interface {
	// SaveRawEvent persists a pre-enrichment event row keyed by fingerprint.
	SaveRawEvent(ctx context.Context, fingerprint string, event RawEvent) error

	// Upsert inserts a new alert or merges into the existing row with the
	// same fingerprint. Merging is field-level non-regression: non-null,
	// newer data wins; already-resolved enrichment is never overwritten by
	// a null.
	Upsert(ctx context.Context, alert Alert) error

	// UpdateLocation applies a late-arriving location resolution to the
	// alert with the given fingerprint. A no-op if the row does not exist.
	UpdateLocation(ctx context.Context, fingerprint string, loc *GeocodeResult, method string) error

	// GetByFingerprint returns the stored alert, or ErrNotFound.
	GetByFingerprint(ctx context.Context, fingerprint string) (*Alert, error)
}

// PlaceCacheRepository is the persistent tier of the geocode chain: place
// names previously resolved by any tier, keyed by normalized name.
type PlaceCacheRepository interface {
	// Lookup returns the cached result for a normalized place name, or
	// ErrNotFound.
	Lookup(ctx context.Context, place string) (*GeocodeResult, error)

	// Store records a resolved place for future lookups.
	Store(ctx context.Context, place string, result GeocodeResult) error
}

// FlushBookkeepingRepository records per-batch flush attempts so retry
// exhaustion survives a restart.
type FlushBookkeepingRepository interface {
	// RecordAttempt increments and returns the attempt count for a batch id.
	RecordAttempt(ctx context.Context, batchID string, lastErr string) (int, error)

	// ClearBatch removes bookkeeping for a completed or abandoned batch.
	ClearBatch(ctx context.Context, batchID string) error
}

// ErrNotFound is returned by lookups that matched no row.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }
