package embedding

import (
	"sync"
	"time"

	"github.com/user/threat-ingestor/internal/adapter/metrics"
)

const quotaPeriod = 24 * time.Hour

// QuotaManager tracks metered embedding usage against daily token and
// request limits. It is an injectable service object, not a singleton, so
// tests stay deterministic and parallel-safe. All accounting happens inside
// one critical section: the check-reset-increment sequence is atomic under
// concurrent callers.
type QuotaManager struct {
	mu             sync.Mutex
	periodTokens   int64
	periodRequests int64
	periodStart    time.Time

	dailyTokens   int64
	dailyRequests int64
	now           func() time.Time
	metrics       *metrics.PipelineMetrics
}

// NewQuotaManager creates a quota manager with the given daily limits.
func NewQuotaManager(dailyTokens, dailyRequests int64, m *metrics.PipelineMetrics) *QuotaManager {
	return &QuotaManager{
		dailyTokens:   dailyTokens,
		dailyRequests: dailyRequests,
		periodStart:   time.Now(),
		now:           time.Now,
		metrics:       m,
	}
}

// Reserve attempts to claim estimatedTokens and one request from the
// current period, resetting the period first if more than a day has
// elapsed. It returns false when the claim would exceed either limit; in
// that case nothing is consumed.
func (q *QuotaManager) Reserve(estimatedTokens int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.now().Sub(q.periodStart) >= quotaPeriod {
		q.periodTokens = 0
		q.periodRequests = 0
		q.periodStart = q.now()
	}

	if q.periodTokens+estimatedTokens > q.dailyTokens {
		return false
	}
	if q.periodRequests >= q.dailyRequests {
		return false
	}

	q.periodTokens += estimatedTokens
	q.periodRequests++
	if q.metrics != nil {
		q.metrics.QuotaTokensUsed.Set(float64(q.periodTokens))
	}
	return true
}

// Release returns a reservation after a failed call so a transient error
// does not burn quota.
func (q *QuotaManager) Release(estimatedTokens int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.periodTokens -= estimatedTokens
	if q.periodTokens < 0 {
		q.periodTokens = 0
	}
	if q.periodRequests > 0 {
		q.periodRequests--
	}
	if q.metrics != nil {
		q.metrics.QuotaTokensUsed.Set(float64(q.periodTokens))
	}
}

// Usage returns the current period's consumption.
func (q *QuotaManager) Usage() (tokens, requests int64, periodStart time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.periodTokens, q.periodRequests, q.periodStart
}

// Reset clears the current period. Documented lifecycle hook for tests and
// operational resets.
func (q *QuotaManager) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.periodTokens = 0
	q.periodRequests = 0
	q.periodStart = q.now()
	if q.metrics != nil {
		q.metrics.QuotaTokensUsed.Set(0)
	}
}
