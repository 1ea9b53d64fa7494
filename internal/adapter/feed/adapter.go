package feed

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/user/threat-ingestor/internal/adapter/metrics"
	"github.com/user/threat-ingestor/internal/domain"
)

// Adapter fetches events from one external source and normalizes them into
// RawEvents. Fetch returns everything retrievable in one cycle; a total
// failure is reported as an error and retried on the next scheduled run.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context) ([]domain.RawEvent, error)
}

// Runner executes adapters under a bounded worker pool so a slow or failing
// source never blocks the others.
type Runner struct {
	adapters    []Adapter
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
	metrics     *metrics.PipelineMetrics
}

// NewRunner creates a Runner. Concurrency values below 1 are raised to 1.
func NewRunner(adapters []Adapter, concurrency int, timeout time.Duration, logger *slog.Logger, m *metrics.PipelineMetrics) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{
		adapters:    adapters,
		concurrency: concurrency,
		timeout:     timeout,
		logger:      logger.With("component", "feed_runner"),
		metrics:     m,
	}
}

// FetchAll runs every adapter concurrently and streams normalized events to
// the handler. A failing adapter is logged and skipped; its events arrive on
// the next cycle. FetchAll returns once all adapters have completed or timed
// out.
func (r *Runner) FetchAll(ctx context.Context, handler func(domain.RawEvent)) {
	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex // serializes handler calls

	for _, a := range r.adapters {
		wg.Add(1)
		go func(a Adapter) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()

			events, err := a.Fetch(fetchCtx)
			if err != nil {
				r.logger.Error("adapter fetch failed", "adapter", a.Name(), "error", err)
				if r.metrics != nil {
					r.metrics.EventsTotal.WithLabelValues(a.Name(), "failed").Inc()
				}
				return
			}

			if r.metrics != nil {
				r.metrics.EventsTotal.WithLabelValues(a.Name(), "fetched").Add(float64(len(events)))
			}
			r.logger.Info("adapter fetch completed", "adapter", a.Name(), "events", len(events))

			mu.Lock()
			defer mu.Unlock()
			for _, e := range events {
				handler(e)
			}
		}(a)
	}

	wg.Wait()
}

// newHTTPClient builds the shared client shape used by all adapters.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
