package embedding

import (
	"context"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQuotaManager(t *testing.T) {
	t.Run("enforces the token limit", func(t *testing.T) {
		q := NewQuotaManager(100, 1000, nil)
		if !q.Reserve(60) {
			t.Fatal("first reservation within limit rejected")
		}
		if !q.Reserve(40) {
			t.Fatal("reservation up to the exact limit rejected")
		}
		if q.Reserve(1) {
			t.Fatal("reservation over the token limit accepted")
		}
	})

	t.Run("enforces the request limit", func(t *testing.T) {
		q := NewQuotaManager(1000, 2, nil)
		if !q.Reserve(1) || !q.Reserve(1) {
			t.Fatal("reservations within the request limit rejected")
		}
		if q.Reserve(1) {
			t.Fatal("reservation over the request limit accepted")
		}
	})

	t.Run("denied reservation consumes nothing", func(t *testing.T) {
		q := NewQuotaManager(100, 10, nil)
		q.Reserve(90)
		q.Reserve(50) // denied
		tokens, requests, _ := q.Usage()
		if tokens != 90 || requests != 1 {
			t.Fatalf("denied reservation mutated state: tokens=%d requests=%d", tokens, requests)
		}
	})

	t.Run("release returns the reservation", func(t *testing.T) {
		q := NewQuotaManager(100, 10, nil)
		q.Reserve(80)
		q.Release(80)
		if !q.Reserve(100) {
			t.Fatal("released tokens not returned to the pool")
		}
	})

	t.Run("resets after the period elapses", func(t *testing.T) {
		q := NewQuotaManager(100, 10, nil)
		current := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		q.now = func() time.Time { return current }
		q.Reset()

		q.Reserve(100)
		if q.Reserve(1) {
			t.Fatal("quota should be exhausted")
		}
		current = current.Add(24 * time.Hour)
		if !q.Reserve(1) {
			t.Fatal("quota did not reset after the period elapsed")
		}
	})

	t.Run("concurrent reservations never exceed the limit", func(t *testing.T) {
		q := NewQuotaManager(50, 1000, nil)
		var wg sync.WaitGroup
		var mu sync.Mutex
		granted := 0
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if q.Reserve(1) {
					mu.Lock()
					granted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if granted != 50 {
			t.Fatalf("expected exactly 50 grants, got %d", granted)
		}
	})
}

func TestPseudoEmbedding(t *testing.T) {
	t.Run("deterministic across calls", func(t *testing.T) {
		a := PseudoEmbedding("armed clashes near the border")
		b := PseudoEmbedding("armed clashes near the border")
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("component %d differs: %v != %v", i, a[i], b[i])
			}
		}
	})

	t.Run("fixed dimensionality and unit norm", func(t *testing.T) {
		v := PseudoEmbedding("any text at all")
		if len(v) != Dimensions {
			t.Fatalf("expected %d dimensions, got %d", Dimensions, len(v))
		}
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		if math.Abs(math.Sqrt(norm)-1) > 1e-4 {
			t.Fatalf("expected unit norm, got %v", math.Sqrt(norm))
		}
	})

	t.Run("distinct inputs diverge", func(t *testing.T) {
		if CosineSimilarity(PseudoEmbedding("flooding in the delta"), PseudoEmbedding("airport closure announced")) > 0.99 {
			t.Fatal("distinct inputs produced near-identical vectors")
		}
	})
}

func TestClientEmbed(t *testing.T) {
	t.Run("uses fallback when no remote is configured", func(t *testing.T) {
		c := NewClient("", "", NewQuotaManager(100, 10, nil), time.Second, testLogger(), nil)
		vector, remote := c.Embed(context.Background(), "some text")
		if remote {
			t.Fatal("unconfigured client reported a remote embedding")
		}
		if len(vector) != Dimensions {
			t.Fatalf("expected %d dimensions, got %d", Dimensions, len(vector))
		}
	})

	t.Run("uses remote when quota allows", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"embedding": [0.1, 0.2, 0.3]}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key", NewQuotaManager(1000, 10, nil), time.Second, testLogger(), nil)
		vector, remote := c.Embed(context.Background(), "some text")
		if !remote {
			t.Fatal("expected a remote embedding")
		}
		if len(vector) != 3 {
			t.Fatalf("expected the remote vector, got %d dimensions", len(vector))
		}
	})

	t.Run("falls back on quota exhaustion without an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("remote must not be called when quota is exhausted")
		}))
		defer server.Close()

		q := NewQuotaManager(1, 10, nil)
		q.Reserve(1)
		c := NewClient(server.URL, "key", q, time.Second, testLogger(), nil)
		vector, remote := c.Embed(context.Background(), "a much longer input text than the single remaining token allows")
		if remote {
			t.Fatal("expected the deterministic fallback")
		}
		if len(vector) != Dimensions {
			t.Fatalf("expected %d dimensions, got %d", Dimensions, len(vector))
		}
	})

	t.Run("releases quota and falls back on remote failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		q := NewQuotaManager(1000, 10, nil)
		c := NewClient(server.URL, "key", q, time.Second, testLogger(), nil)
		_, remote := c.Embed(context.Background(), "some text")
		if remote {
			t.Fatal("expected fallback on a 500 response")
		}
		tokens, requests, _ := q.Usage()
		if tokens != 0 || requests != 0 {
			t.Fatalf("failed call burned quota: tokens=%d requests=%d", tokens, requests)
		}
	})

	t.Run("fallback matches the pseudo-embedding byte for byte", func(t *testing.T) {
		c := NewClient("", "", NewQuotaManager(100, 10, nil), time.Second, testLogger(), nil)
		got, _ := c.Embed(context.Background(), "identical input")
		want := PseudoEmbedding("identical input")
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("component %d differs: %v != %v", i, got[i], want[i])
			}
		}
	})
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 1 {
		t.Errorf("empty text: expected minimum of 1, got %d", got)
	}
	if got := EstimateTokens("abcdefgh"); got != 2 {
		t.Errorf("expected 2 tokens for 8 bytes, got %d", got)
	}
}
