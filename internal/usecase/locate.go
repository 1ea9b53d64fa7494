package usecase

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/user/threat-ingestor/internal/adapter/geocode"
	"github.com/user/threat-ingestor/internal/adapter/inference"
	"github.com/user/threat-ingestor/internal/domain"
)

// Location resolution runs a per-event state machine:
//
//	UNRESOLVED -> DETERMINISTIC_MATCHED | QUEUED_FOR_INFERENCE
//	QUEUED_FOR_INFERENCE -> GEOCODED | FALLBACK
//
// The deterministic gazetteer fast path is always attempted first; only
// misses pay for the batched inference call.

const excerptLimit = 500

// LocateUseCase resolves event locations through the gazetteer, the geocode
// chain and the adaptive inference batch.
type LocateUseCase struct {
	gazetteer *geocode.Gazetteer
	resolver  *geocode.Resolver
	batch     *BatchManager
	alerts    domain.AlertRepository
	logger    *slog.Logger
}

// NewLocateUseCase creates the location resolution use case. Call
// BindBatchManager before use; the batch manager needs this use case's
// OnBatchResolved as its callback, so the two are constructed in two steps.
func NewLocateUseCase(gazetteer *geocode.Gazetteer, resolver *geocode.Resolver, alerts domain.AlertRepository, logger *slog.Logger) *LocateUseCase {
	return &LocateUseCase{
		gazetteer: gazetteer,
		resolver:  resolver,
		alerts:    alerts,
		logger:    logger.With("component", "locate"),
	}
}

// BindBatchManager attaches the batch manager used for the inference path.
func (uc *LocateUseCase) BindBatchManager(batch *BatchManager) {
	uc.batch = batch
}

// Resolve attempts synchronous resolution. When the event is ambiguous it
// returns (nil, MethodQueued, true): the caller commits the alert
// provisionally, then hands the event to Queue so the batch flush can only
// ever update a row that already exists.
func (uc *LocateUseCase) Resolve(ctx context.Context, event *domain.RawEvent, fingerprint string) (*domain.GeocodeResult, string, bool) {
	text := strings.TrimSpace(event.LocationHint + " " + event.Title)

	// Fast path: curated gazetteer substring match.
	if result, ok := uc.gazetteer.Match(text); ok {
		uc.resolver.ApplyGate(result)
		return result, result.Method, false
	}

	// A named place hint goes straight to the geocode chain.
	if event.LocationHint != "" || event.HasCoordinates() {
		query := geocode.Query{
			Place:     event.LocationHint,
			Latitude:  event.Latitude,
			Longitude: event.Longitude,
		}
		result, err := uc.resolver.Resolve(ctx, query)
		if err != nil {
			uc.logger.Warn("geocode chain failed", "fingerprint", fingerprint, "error", err)
		}
		if result != nil {
			return result, result.Method, false
		}
	}

	// Ambiguous: defer to the batched inference extractor.
	if uc.batch != nil {
		return nil, domain.MethodQueued, true
	}

	return nil, domain.MethodFallback, false
}

// Queue enqueues an ambiguous event for batched inference extraction.
// Called only after the provisional alert row has been committed.
func (uc *LocateUseCase) Queue(ctx context.Context, event *domain.RawEvent, fingerprint string, priority domain.BatchPriority) {
	uc.batch.Enqueue(ctx, domain.LocationBatchItem{
		Fingerprint: fingerprint,
		TextExcerpt: excerpt(event.Title + ". " + event.Body),
		Priority:    priority,
	})
}

// OnBatchResolved is the batch manager's callback: it geocodes whatever the
// inference service extracted and applies the result to the provisional
// alert. A nil extraction marks the alert as fallback without touching any
// location another source already resolved.
func (uc *LocateUseCase) OnBatchResolved(ctx context.Context, item domain.LocationBatchItem, ext *inference.Extraction) {
	if ext == nil || (ext.Place == "" && ext.City == "" && ext.Latitude == nil) {
		uc.applyLocation(ctx, item.Fingerprint, nil, domain.MethodFallback)
		return
	}

	var result *domain.GeocodeResult

	if ext.Latitude != nil && ext.Longitude != nil && domain.CoordinatesInRange(*ext.Latitude, *ext.Longitude) {
		result = &domain.GeocodeResult{
			Latitude:  *ext.Latitude,
			Longitude: *ext.Longitude,
			City:      ext.City,
			Country:   ext.Country,
			Method:    domain.MethodInference,
		}
		uc.resolver.ApplyGate(result)
	} else {
		place := ext.Place
		if place == "" {
			place = strings.TrimSpace(strings.Join(compact(ext.City, ext.Country), ", "))
		}
		resolved, err := uc.resolver.Resolve(ctx, geocode.Query{Place: place})
		if err != nil {
			uc.logger.Warn("geocoding extracted place failed", "place", place, "error", err)
		}
		result = resolved
	}

	if result == nil {
		uc.applyLocation(ctx, item.Fingerprint, nil, domain.MethodFallback)
		return
	}
	uc.applyLocation(ctx, item.Fingerprint, result, result.Method)
}

func (uc *LocateUseCase) applyLocation(ctx context.Context, fingerprint string, loc *domain.GeocodeResult, method string) {
	if err := uc.alerts.UpdateLocation(ctx, fingerprint, loc, method); err != nil {
		uc.logger.Error("failed to apply batch location", "fingerprint", fingerprint, "error", err)
	}
}

// excerpt truncates on a rune boundary so a multi-byte character is never
// split in the text sent for extraction.
func excerpt(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= excerptLimit {
		return text
	}
	cut := excerptLimit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func compact(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}
