package usecase

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/user/threat-ingestor/internal/adapter/embedding"
)

// fallbackScorer scores with no remote embedding configured: the semantic
// component comes from the deterministic pseudo-embedding only.
func fallbackScorer() *Scorer {
	embedder := embedding.NewClient("", "", embedding.NewQuotaManager(1000, 100, nil), time.Second, testLogger(), nil)
	return NewScorer(embedder, testLogger())
}

func TestScore(t *testing.T) {
	ctx := context.Background()

	t.Run("strong lexical text scores high without the embedding path", func(t *testing.T) {
		s := fallbackScorer()
		score, comps, embeddingUsed := s.Score(ctx,
			"Massacre leaves mass casualties, dozens killed",
			"State of emergency declared after the explosion destroyed the hospital.",
			CategoryArmedConflict)
		if comps.Lexical < weakLexicalThreshold {
			t.Fatalf("expected a strong lexical component, got %v", comps.Lexical)
		}
		if comps.Semantic != 0 {
			t.Fatalf("strong lexical text must skip the semantic component, got %v", comps.Semantic)
		}
		if embeddingUsed {
			t.Fatal("no remote embedding is configured")
		}
		if score < 40 || score > 100 {
			t.Fatalf("unexpected score %v", score)
		}
	})

	t.Run("weak lexical text engages the semantic component", func(t *testing.T) {
		// A remote that returns the same vector for every input makes the
		// anchor similarity exactly 1, so the semantic component is the cap.
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"embedding": [0.6, 0.8]}`))
		}))
		defer server.Close()

		embedder := embedding.NewClient(server.URL, "key", embedding.NewQuotaManager(100000, 1000, nil), time.Second, testLogger(), nil)
		s := NewScorer(embedder, testLogger())

		score, comps, embeddingUsed := s.Score(ctx, "Situation developing in the region", "", CategoryUnclassified)
		if comps.Lexical >= weakLexicalThreshold {
			t.Fatalf("test text unexpectedly strong: %v", comps.Lexical)
		}
		if comps.Semantic != semanticCap {
			t.Fatalf("expected semantic component %v, got %v", semanticCap, comps.Semantic)
		}
		if !embeddingUsed {
			t.Fatal("expected the remote embedding path")
		}
		if score <= 0 {
			t.Fatalf("unexpected score %v", score)
		}
	})

	t.Run("category weight discounts low-acuity categories", func(t *testing.T) {
		s := fallbackScorer()
		title := "Explosion kills several, dozens wounded"
		conflict, _, _ := s.Score(ctx, title, "", CategoryArmedConflict)
		crime, _, _ := s.Score(ctx, title, "", CategoryCrime)
		if conflict <= crime {
			t.Fatalf("conflict (%v) must outrank crime (%v) on identical text", conflict, crime)
		}
	})

	t.Run("score is deterministic and bounded", func(t *testing.T) {
		s := fallbackScorer()
		title := "Martial law declared, widespread evacuation, airport closed, power outage"
		first, _, _ := s.Score(ctx, title, "", CategoryArmedConflict)
		for i := 0; i < 5; i++ {
			score, _, _ := s.Score(ctx, title, "", CategoryArmedConflict)
			if score != first {
				t.Fatalf("score is unstable: %v then %v", first, score)
			}
		}
		if first < 0 || first > 100 {
			t.Fatalf("score out of bounds: %v", first)
		}
	})

	t.Run("unknown category falls back to the unclassified weight", func(t *testing.T) {
		s := fallbackScorer()
		unknown, _, _ := s.Score(ctx, "Explosion kills several", "", "brand_new_category")
		unclassified, _, _ := s.Score(ctx, "Explosion kills several", "", CategoryUnclassified)
		if unknown != unclassified {
			t.Fatalf("expected the unclassified weight, got %v vs %v", unknown, unclassified)
		}
	})
}
