package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/user/threat-ingestor/internal/domain"
)

// AlertRepository implements domain.AlertRepository for PostgreSQL.
type AlertRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAlertRepository creates a new PostgreSQL alert repository.
func NewAlertRepository(db *sql.DB, logger *slog.Logger) *AlertRepository {
	return &AlertRepository{db: db, logger: logger.With("component", "alert_repository")}
}

// SaveRawEvent persists the pre-enrichment event row. Re-ingestion of the
// same fingerprint refreshes retrieved_at and is otherwise a no-op.
func (r *AlertRepository) SaveRawEvent(ctx context.Context, fingerprint string, event domain.RawEvent) error {
	query := `
		INSERT INTO raw_events (fingerprint, source_id, origin, title, body, url, published_at, location_hint, latitude, longitude, retrieved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (fingerprint) DO UPDATE SET
			retrieved_at = EXCLUDED.retrieved_at;
	`
	_, err := r.db.ExecContext(ctx, query,
		fingerprint, event.SourceID, string(event.Origin), event.Title, event.Body,
		event.URL, event.PublishedAt, nullIfEmpty(event.LocationHint),
		floatOrNull(event.Latitude), floatOrNull(event.Longitude), event.RetrievedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save raw event: %w", err)
	}
	return nil
}

// Upsert inserts the alert or merges into the existing row with the same
// fingerprint. The merge is done entirely inside one INSERT ... ON CONFLICT
// statement so concurrent callers with the same fingerprint can never
// produce two rows or interleave a read-then-write. COALESCE on the
// enrichment columns enforces field-level non-regression: a previously
// resolved location survives an update that carries none.
func (r *AlertRepository) Upsert(ctx context.Context, alert domain.Alert) error {
	locJSON, err := marshalLocation(alert.Location)
	if err != nil {
		return err
	}
	confJSON, err := json.Marshal(alert.Confidence)
	if err != nil {
		return fmt.Errorf("failed to marshal confidence components: %w", err)
	}

	query := `
		INSERT INTO alerts (
			id, fingerprint, source_id, origin, title, body, url, published_at,
			category, domains, location, location_method, severity_score,
			confidence_components, embedding_used, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW())
		ON CONFLICT (fingerprint) DO UPDATE SET
			body            = CASE WHEN EXCLUDED.body <> '' THEN EXCLUDED.body ELSE alerts.body END,
			published_at    = GREATEST(alerts.published_at, EXCLUDED.published_at),
			category        = COALESCE(NULLIF(EXCLUDED.category, 'unclassified'), alerts.category),
			domains         = CASE WHEN array_length(EXCLUDED.domains, 1) > 0 THEN EXCLUDED.domains ELSE alerts.domains END,
			location        = COALESCE(EXCLUDED.location, alerts.location),
			location_method = CASE WHEN EXCLUDED.location IS NOT NULL THEN EXCLUDED.location_method ELSE alerts.location_method END,
			severity_score  = GREATEST(alerts.severity_score, EXCLUDED.severity_score),
			confidence_components = EXCLUDED.confidence_components,
			embedding_used  = alerts.embedding_used OR EXCLUDED.embedding_used,
			updated_at      = NOW();
	`
	_, err = r.db.ExecContext(ctx, query,
		alert.ID, alert.Fingerprint, alert.SourceID, string(alert.Origin),
		alert.Title, alert.Body, alert.URL, alert.PublishedAt,
		alert.Category, pq.Array(alert.Domains), locJSON, alert.LocationMethod,
		alert.SeverityScore, confJSON, alert.EmbeddingUsed,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert alert: %w", err)
	}
	return nil
}

// UpdateLocation applies a late-arriving location resolution from a batch
// flush. A null result never regresses an existing location.
func (r *AlertRepository) UpdateLocation(ctx context.Context, fingerprint string, loc *domain.GeocodeResult, method string) error {
	locJSON, err := marshalLocation(loc)
	if err != nil {
		return err
	}

	// A null result never regresses an existing location; the method only
	// moves to fallback when there is genuinely nothing located.
	query := `
		UPDATE alerts SET
			location        = COALESCE($2, location),
			location_method = CASE WHEN $2::jsonb IS NOT NULL OR alerts.location IS NULL THEN $3 ELSE location_method END,
			updated_at      = NOW()
		WHERE fingerprint = $1;
	`
	if _, err := r.db.ExecContext(ctx, query, fingerprint, locJSON, method); err != nil {
		return fmt.Errorf("failed to update alert location: %w", err)
	}
	return nil
}

// GetByFingerprint returns the stored alert, or domain.ErrNotFound.
func (r *AlertRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*domain.Alert, error) {
	query := `
		SELECT id, fingerprint, source_id, origin, title, body, url, published_at,
			category, domains, location, location_method, severity_score,
			confidence_components, embedding_used, created_at, updated_at
		FROM alerts WHERE fingerprint = $1;
	`

	var alert domain.Alert
	var origin string
	var domains pq.StringArray
	var locJSON, confJSON []byte

	err := r.db.QueryRowContext(ctx, query, fingerprint).Scan(
		&alert.ID, &alert.Fingerprint, &alert.SourceID, &origin,
		&alert.Title, &alert.Body, &alert.URL, &alert.PublishedAt,
		&alert.Category, &domains, &locJSON, &alert.LocationMethod,
		&alert.SeverityScore, &confJSON, &alert.EmbeddingUsed,
		&alert.CreatedAt, &alert.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query alert: %w", err)
	}

	alert.Origin = domain.Origin(origin)
	alert.Domains = domains
	if len(locJSON) > 0 {
		var loc domain.GeocodeResult
		if err := json.Unmarshal(locJSON, &loc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stored location: %w", err)
		}
		alert.Location = &loc
	}
	if len(confJSON) > 0 {
		if err := json.Unmarshal(confJSON, &alert.Confidence); err != nil {
			return nil, fmt.Errorf("failed to unmarshal confidence components: %w", err)
		}
	}

	return &alert, nil
}

func marshalLocation(loc *domain.GeocodeResult) (any, error) {
	if loc == nil {
		return nil, nil
	}
	data, err := json.Marshal(loc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal location: %w", err)
	}
	return data, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func floatOrNull(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
