package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/threat-ingestor/internal/adapter/inference"
	"github.com/user/threat-ingestor/internal/adapter/metrics"
	"github.com/user/threat-ingestor/internal/domain"
)

// Adaptive threshold bounds: the flush size moves one step at a time
// between these, steered by observed flush latency.
const (
	thresholdStep = 5
	thresholdMin  = 10
	thresholdMax  = 50

	// Buffer utilization watermarks.
	earlyFlushWatermark     = 0.85
	emergencyFlushWatermark = 0.95

	// An urgent item flushes at most this many companions with it.
	urgentBatchSize = 5
)

// ResolvedFunc receives the outcome for one flushed item. A nil extraction
// means the item fell back: the inference path is unavailable or the batch
// was abandoned, and the event keeps a deterministic-only (or absent)
// location.
type ResolvedFunc func(ctx context.Context, item domain.LocationBatchItem, ext *inference.Extraction)

// BatchManagerConfig carries the tunables from the configuration surface.
type BatchManagerConfig struct {
	InitialThreshold int
	MaxSize          int
	MaxAge           time.Duration
	ItemMaxAge       time.Duration
	LatencyTarget    time.Duration
	MaxRetries       int
}

// BatchManager owns the queue of events awaiting inference-based location
// extraction. The enqueue path and the background timer share one mutex
// around the buffer, timestamps and the adaptive threshold; network calls
// happen strictly outside the critical section. Memory is bounded by a hard
// maximum size and a per-item age ceiling, enforced by eviction, so a dead
// inference dependency can never grow the buffer without limit.
type BatchManager struct {
	mu             sync.Mutex
	buffer         []domain.LocationBatchItem
	threshold      int
	oldestEnqueued time.Time

	cfg         BatchManagerConfig
	client      *inference.Client
	bookkeeping domain.FlushBookkeepingRepository
	onResolved  ResolvedFunc
	logger      *slog.Logger
	metrics     *metrics.PipelineMetrics
	now         func() time.Time
}

// NewBatchManager creates the batch manager. onResolved must be non-nil.
func NewBatchManager(cfg BatchManagerConfig, client *inference.Client, bookkeeping domain.FlushBookkeepingRepository, onResolved ResolvedFunc, logger *slog.Logger, m *metrics.PipelineMetrics) *BatchManager {
	if cfg.InitialThreshold <= 0 {
		cfg.InitialThreshold = 25
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 500
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &BatchManager{
		threshold:   clampThreshold(cfg.InitialThreshold),
		cfg:         cfg,
		client:      client,
		bookkeeping: bookkeeping,
		onResolved:  onResolved,
		logger:      logger.With("component", "batch_manager"),
		metrics:     m,
		now:         time.Now,
	}
}

// Enqueue adds an item to the buffer and flushes if any trigger fires:
// urgent priority, adaptive size threshold, or a memory-pressure watermark.
func (b *BatchManager) Enqueue(ctx context.Context, item domain.LocationBatchItem) {
	b.mu.Lock()

	if item.ItemID == "" {
		item.ItemID = uuid.NewString()
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = b.now()
	}

	// Hard cap: evict the oldest item rather than grow past the bound. The
	// evicted item is dispatched as a fallback after the lock is released,
	// same as stale eviction, so its event is not left waiting forever.
	var evicted []domain.LocationBatchItem
	if len(b.buffer) >= b.cfg.MaxSize {
		dropped := b.buffer[0]
		evicted = append(evicted, dropped)
		b.buffer = b.buffer[1:]
		b.countEviction("overflow")
		b.logger.Warn("buffer at hard maximum, evicted oldest item", "item_id", dropped.ItemID)
	}

	b.buffer = append(b.buffer, item)
	if len(b.buffer) == 1 {
		b.oldestEnqueued = item.EnqueuedAt
	}
	b.gaugeSize()

	var batch []domain.LocationBatchItem
	utilization := float64(len(b.buffer)) / float64(b.cfg.MaxSize)

	switch {
	case item.Priority == domain.PriorityUrgent:
		// Urgent items bypass normal batching: ship the urgent item itself
		// plus the oldest companions, as one small batch.
		batch = b.cutUrgentLocked()
	case utilization > emergencyFlushWatermark:
		batch = b.cutLocked(len(b.buffer))
	case utilization > earlyFlushWatermark:
		batch = b.cutLocked(b.threshold)
	case len(b.buffer) >= b.threshold:
		batch = b.cutLocked(b.threshold)
	}
	b.mu.Unlock()

	for _, it := range evicted {
		b.onResolved(ctx, it, nil)
	}
	if len(batch) > 0 {
		b.flush(ctx, batch)
	}
}

// Run drives the background timer: age-based flushes and stale-item
// eviction. It blocks until the context is cancelled.
func (b *BatchManager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.FlushNow(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			b.evictStale(ctx)

			b.mu.Lock()
			var batch []domain.LocationBatchItem
			if len(b.buffer) > 0 && b.now().Sub(b.oldestEnqueued) >= b.cfg.MaxAge {
				batch = b.cutLocked(b.threshold)
			}
			b.mu.Unlock()

			if len(batch) > 0 {
				b.flush(ctx, batch)
			}
		}
	}
}

// FlushNow drains the entire buffer, used at shutdown.
func (b *BatchManager) FlushNow(ctx context.Context) {
	for {
		b.mu.Lock()
		batch := b.cutLocked(b.threshold)
		b.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		b.flush(ctx, batch)
	}
}

// Size returns the current buffer length.
func (b *BatchManager) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

// cutLocked removes and returns up to n items from the head of the buffer.
// Caller must hold the lock.
func (b *BatchManager) cutLocked(n int) []domain.LocationBatchItem {
	if n > len(b.buffer) {
		n = len(b.buffer)
	}
	if n == 0 {
		return nil
	}

	batch := make([]domain.LocationBatchItem, n)
	copy(batch, b.buffer[:n])
	b.buffer = append(b.buffer[:0], b.buffer[n:]...)
	if len(b.buffer) > 0 {
		b.oldestEnqueued = b.buffer[0].EnqueuedAt
	}
	b.gaugeSize()
	return batch
}

// cutUrgentLocked removes the newest item (the urgent one just appended)
// together with up to urgentBatchSize-1 of the oldest buffered items, so an
// urgent flush always carries the item that triggered it. Caller must hold
// the lock.
func (b *BatchManager) cutUrgentLocked() []domain.LocationBatchItem {
	if len(b.buffer) == 0 {
		return nil
	}
	urgent := b.buffer[len(b.buffer)-1]
	b.buffer = b.buffer[:len(b.buffer)-1]

	batch := b.cutLocked(urgentBatchSize - 1)
	batch = append(batch, urgent)
	b.gaugeSize()
	return batch
}

// evictStale drops items past the age ceiling, dispatching them as
// fallbacks so their events are not lost, just unlocated.
func (b *BatchManager) evictStale(ctx context.Context) {
	b.mu.Lock()
	cutoff := b.now().Add(-b.cfg.ItemMaxAge)
	var stale []domain.LocationBatchItem
	kept := b.buffer[:0]
	for _, item := range b.buffer {
		if b.cfg.ItemMaxAge > 0 && item.EnqueuedAt.Before(cutoff) {
			stale = append(stale, item)
		} else {
			kept = append(kept, item)
		}
	}
	b.buffer = kept
	if len(b.buffer) > 0 {
		b.oldestEnqueued = b.buffer[0].EnqueuedAt
	}
	b.gaugeSize()
	b.mu.Unlock()

	for _, item := range stale {
		b.countEviction("stale")
		b.logger.Warn("evicted stale batch item", "item_id", item.ItemID, "enqueued_at", item.EnqueuedAt)
		b.onResolved(ctx, item, nil)
	}
}

// flush sends one batch to the inference service and dispatches results.
// A breaker-open short circuit is not an error: the batch immediately falls
// back to deterministic-only results. A real failure retries up to the
// per-batch ceiling, then abandons the batch so it cannot leak memory.
func (b *BatchManager) flush(ctx context.Context, batch []domain.LocationBatchItem) {
	batchID := uuid.NewString()
	start := b.now()

	for {
		results, err := b.client.ExtractBatch(ctx, batch)
		if err == nil {
			b.observeLatency(b.now().Sub(start))
			b.clearBookkeeping(ctx, batchID)
			for _, item := range batch {
				if ext, ok := results[item.ItemID]; ok {
					b.onResolved(ctx, item, &ext)
				} else {
					b.onResolved(ctx, item, nil)
				}
			}
			return
		}

		if errors.Is(err, inference.ErrBreakerOpen) {
			b.logger.Warn("inference breaker open, batch degrading to deterministic-only", "batch_id", batchID, "items", len(batch))
			b.fallbackAll(ctx, batch)
			return
		}

		attempts := b.recordAttempt(ctx, batchID, err)
		b.logger.Error("batch flush failed", "batch_id", batchID, "attempt", attempts, "error", err)
		if attempts >= b.cfg.MaxRetries {
			b.logger.Error("batch permanently failed, abandoning items", "batch_id", batchID, "items", len(batch))
			b.countEvictionN("abandoned", len(batch))
			b.clearBookkeeping(ctx, batchID)
			b.fallbackAll(ctx, batch)
			return
		}

		select {
		case <-ctx.Done():
			b.fallbackAll(ctx, batch)
			return
		case <-time.After(time.Second):
		}
	}
}

func (b *BatchManager) fallbackAll(ctx context.Context, batch []domain.LocationBatchItem) {
	for _, item := range batch {
		b.onResolved(ctx, item, nil)
	}
}

// observeLatency records the flush latency and steers the adaptive
// threshold one step toward the target: slow flushes shrink the batch,
// comfortably fast ones grow it.
func (b *BatchManager) observeLatency(elapsed time.Duration) {
	if b.metrics != nil {
		b.metrics.BatchFlushLatency.Observe(elapsed.Seconds())
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if elapsed > b.cfg.LatencyTarget {
		b.threshold = clampThreshold(b.threshold - thresholdStep)
	} else if elapsed < b.cfg.LatencyTarget/2 {
		b.threshold = clampThreshold(b.threshold + thresholdStep)
	}
}

// Threshold returns the current adaptive flush threshold.
func (b *BatchManager) Threshold() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.threshold
}

func (b *BatchManager) recordAttempt(ctx context.Context, batchID string, err error) int {
	if b.bookkeeping == nil {
		return b.cfg.MaxRetries // no bookkeeping, fail immediately after one try
	}
	attempts, bkErr := b.bookkeeping.RecordAttempt(ctx, batchID, err.Error())
	if bkErr != nil {
		b.logger.Warn("failed to record flush attempt", "batch_id", batchID, "error", bkErr)
		return b.cfg.MaxRetries
	}
	return attempts
}

func (b *BatchManager) clearBookkeeping(ctx context.Context, batchID string) {
	if b.bookkeeping == nil {
		return
	}
	if err := b.bookkeeping.ClearBatch(ctx, batchID); err != nil {
		b.logger.Warn("failed to clear flush bookkeeping", "batch_id", batchID, "error", err)
	}
}

func (b *BatchManager) gaugeSize() {
	if b.metrics != nil {
		b.metrics.BatchBufferSize.Set(float64(len(b.buffer)))
	}
}

func (b *BatchManager) countEviction(reason string) {
	if b.metrics != nil {
		b.metrics.BatchEvictions.WithLabelValues(reason).Inc()
	}
}

func (b *BatchManager) countEvictionN(reason string, n int) {
	if b.metrics != nil {
		b.metrics.BatchEvictions.WithLabelValues(reason).Add(float64(n))
	}
}

func clampThreshold(t int) int {
	if t < thresholdMin {
		return thresholdMin
	}
	if t > thresholdMax {
		return thresholdMax
	}
	return t
}
