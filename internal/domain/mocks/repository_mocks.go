package mocks

import (
	"context"
	"sync"

	"github.com/user/threat-ingestor/internal/domain"
)

// MockAlertRepository is an in-memory implementation of
// domain.AlertRepository for testing. Upsert reproduces the production
// merge semantics closely enough for the idempotency scenarios.
type MockAlertRepository struct {
	mu        sync.Mutex
	Alerts    map[string]domain.Alert
	RawEvents map[string]domain.RawEvent

	SaveRawErr error
	UpsertErr  error
	UpdateErr  error
}

func NewMockAlertRepository() *MockAlertRepository {
	return &MockAlertRepository{
		Alerts:    make(map[string]domain.Alert),
		RawEvents: make(map[string]domain.RawEvent),
	}
}

func (m *MockAlertRepository) SaveRawEvent(ctx context.Context, fingerprint string, event domain.RawEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveRawErr != nil {
		return m.SaveRawErr
	}
	m.RawEvents[fingerprint] = event
	return nil
}

func (m *MockAlertRepository) Upsert(ctx context.Context, alert domain.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertErr != nil {
		return m.UpsertErr
	}

	existing, ok := m.Alerts[alert.Fingerprint]
	if !ok {
		m.Alerts[alert.Fingerprint] = alert
		return nil
	}

	// Field-level non-regression merge, mirroring the SQL upsert.
	if alert.Body != "" {
		existing.Body = alert.Body
	}
	if alert.Location != nil {
		existing.Location = alert.Location
		existing.LocationMethod = alert.LocationMethod
	}
	if alert.SeverityScore > existing.SeverityScore {
		existing.SeverityScore = alert.SeverityScore
	}
	existing.EmbeddingUsed = existing.EmbeddingUsed || alert.EmbeddingUsed
	m.Alerts[alert.Fingerprint] = existing
	return nil
}

func (m *MockAlertRepository) UpdateLocation(ctx context.Context, fingerprint string, loc *domain.GeocodeResult, method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}

	alert, ok := m.Alerts[fingerprint]
	if !ok {
		return nil
	}
	if loc != nil {
		alert.Location = loc
		alert.LocationMethod = method
	} else if alert.Location == nil {
		alert.LocationMethod = method
	}
	m.Alerts[fingerprint] = alert
	return nil
}

func (m *MockAlertRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.Alerts[fingerprint]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &alert, nil
}

// Count returns the number of stored alerts.
func (m *MockAlertRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Alerts)
}

// MockPlaceCache is an in-memory domain.PlaceCacheRepository.
type MockPlaceCache struct {
	mu      sync.Mutex
	Places  map[string]domain.GeocodeResult
	Lookups int
	Stores  int

	LookupErr error
}

func NewMockPlaceCache() *MockPlaceCache {
	return &MockPlaceCache{Places: make(map[string]domain.GeocodeResult)}
}

func (m *MockPlaceCache) Lookup(ctx context.Context, place string) (*domain.GeocodeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Lookups++
	if m.LookupErr != nil {
		return nil, m.LookupErr
	}
	result, ok := m.Places[place]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &result, nil
}

func (m *MockPlaceCache) Store(ctx context.Context, place string, result domain.GeocodeResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stores++
	m.Places[place] = result
	return nil
}

// MockBookkeeping is an in-memory domain.FlushBookkeepingRepository.
type MockBookkeeping struct {
	mu       sync.Mutex
	Attempts map[string]int
	Cleared  []string
}

func NewMockBookkeeping() *MockBookkeeping {
	return &MockBookkeeping{Attempts: make(map[string]int)}
}

func (m *MockBookkeeping) RecordAttempt(ctx context.Context, batchID string, lastErr string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Attempts[batchID]++
	return m.Attempts[batchID], nil
}

func (m *MockBookkeeping) ClearBatch(ctx context.Context, batchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cleared = append(m.Cleared, batchID)
	return nil
}
