package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/user/threat-ingestor/internal/domain"
)

// PlaceRepository implements domain.PlaceCacheRepository on PostgreSQL: the
// durable tier of the geocode chain, surviving restarts unlike the redis
// hot cache in front of it.
type PlaceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPlaceRepository creates a new PostgreSQL place repository.
func NewPlaceRepository(db *sql.DB, logger *slog.Logger) *PlaceRepository {
	return &PlaceRepository{db: db, logger: logger.With("component", "place_repository")}
}

// Lookup returns the stored resolution for a normalized place name.
func (r *PlaceRepository) Lookup(ctx context.Context, place string) (*domain.GeocodeResult, error) {
	query := `
		SELECT latitude, longitude, city, country, method, confidence_tier
		FROM resolved_places WHERE place_name = $1;
	`

	var result domain.GeocodeResult
	var tier int
	err := r.db.QueryRowContext(ctx, query, normalizePlace(place)).Scan(
		&result.Latitude, &result.Longitude, &result.City, &result.Country,
		&result.Method, &tier,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query resolved place: %w", err)
	}

	result.Tier = domain.ConfidenceTier(tier)
	return &result, nil
}

// Store records a resolved place. A better (lower) tier always replaces a
// worse one; a worse tier never clobbers a better cached result.
func (r *PlaceRepository) Store(ctx context.Context, place string, result domain.GeocodeResult) error {
	query := `
		INSERT INTO resolved_places (place_name, latitude, longitude, city, country, method, confidence_tier, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (place_name) DO UPDATE SET
			latitude        = EXCLUDED.latitude,
			longitude       = EXCLUDED.longitude,
			city            = EXCLUDED.city,
			country         = EXCLUDED.country,
			method          = EXCLUDED.method,
			confidence_tier = EXCLUDED.confidence_tier,
			resolved_at     = NOW()
		WHERE EXCLUDED.confidence_tier <= resolved_places.confidence_tier;
	`
	_, err := r.db.ExecContext(ctx, query,
		normalizePlace(place), result.Latitude, result.Longitude,
		result.City, result.Country, result.Method, int(result.Tier),
	)
	if err != nil {
		return fmt.Errorf("failed to store resolved place: %w", err)
	}
	return nil
}

func normalizePlace(place string) string {
	return strings.ToLower(strings.Join(strings.Fields(place), " "))
}
