package usecase

import (
	"context"
	"log/slog"
	"strings"

	"github.com/user/threat-ingestor/internal/adapter/embedding"
	"github.com/user/threat-ingestor/internal/domain"
)

// severityTerms maps lexical markers to their weight contribution. The
// lexical component is the capped sum of matched weights.
var severityTerms = map[string]float64{
	"mass casualties": 20, "massacre": 20, "killed": 12, "dead": 10,
	"fatalities": 12, "explosion": 10, "destroyed": 8, "critical": 8,
	"wounded": 6, "injured": 6, "evacuated": 6, "displaced": 8,
	"state of emergency": 15, "martial law": 15, "escalation": 6,
	"severe": 5, "widespread": 5, "collapse": 8, "under attack": 10,
}

// mobilityTerms and infraTerms drive the two impact components.
var mobilityTerms = map[string]float64{
	"airport closed": 10, "border closed": 10, "roads blocked": 8,
	"flights cancelled": 8, "evacuation": 6, "curfew": 6, "checkpoint": 4,
	"transit suspended": 8,
}

var infraTerms = map[string]float64{
	"power outage": 10, "blackout": 10, "grid": 6, "water supply": 8,
	"pipeline": 6, "telecommunications": 6, "hospital damaged": 12,
	"bridge collapse": 10,
}

// categoryWeights scale the combined score. Violent categories carry full
// weight; low-acuity categories are discounted so a keyword-dense crime
// brief does not outrank an active conflict.
var categoryWeights = map[string]float64{
	CategoryArmedConflict:   1.0,
	CategoryTerrorism:       1.0,
	CategoryNaturalDisaster: 0.9,
	CategoryCivilUnrest:     0.75,
	CategoryInfrastructure:  0.7,
	CategoryHealth:          0.65,
	CategoryCrime:           0.6,
	CategoryUnclassified:    0.4,
}

// Component caps keep any single signal from saturating the score.
const (
	lexicalCap  = 55.0
	mobilityCap = 15.0
	infraCap    = 15.0
	semanticCap = 15.0

	// Below this lexical score the text is considered weak-signal and the
	// embedding similarity path kicks in.
	weakLexicalThreshold = 20.0
)

// severityAnchor is the reference text the embedding path compares against
// when the lexical signal is weak.
const severityAnchor = "armed attack with mass casualties, critical infrastructure destroyed, " +
	"civilians killed and displaced, state of emergency declared"

// Scorer combines lexical severity scoring with a metered embedding
// similarity fallback. Scoring never fails: the embedding path degrades to
// a deterministic pseudo-embedding internally.
type Scorer struct {
	embedder *embedding.Client
	logger   *slog.Logger

	anchorVector []float32
}

// NewScorer creates a Scorer. The anchor embedding is computed once at
// construction.
func NewScorer(embedder *embedding.Client, logger *slog.Logger) *Scorer {
	s := &Scorer{
		embedder: embedder,
		logger:   logger.With("component", "scorer"),
	}
	s.anchorVector, _ = embedder.Embed(context.Background(), severityAnchor)
	return s
}

// Score produces the 0-100 severity score and its component breakdown.
// The returned bool reports whether a remote embedding was used.
func (s *Scorer) Score(ctx context.Context, title, body, category string) (float64, domain.ConfidenceComponents, bool) {
	text := strings.ToLower(title + " " + body)

	comps := domain.ConfidenceComponents{
		Lexical:        cappedTermScore(text, severityTerms, lexicalCap),
		Mobility:       cappedTermScore(text, mobilityTerms, mobilityCap),
		Infrastructure: cappedTermScore(text, infraTerms, infraCap),
	}

	embeddingUsed := false
	if comps.Lexical < weakLexicalThreshold {
		vector, remote := s.embedder.Embed(ctx, text)
		embeddingUsed = remote
		similarity := embedding.CosineSimilarity(vector, s.anchorVector)
		if similarity > 0 {
			comps.Semantic = similarity * semanticCap
		}
	}

	weight, ok := categoryWeights[category]
	if !ok {
		weight = categoryWeights[CategoryUnclassified]
	}

	total := (comps.Lexical + comps.Mobility + comps.Infrastructure + comps.Semantic) * weight
	return domain.ClampScore(total), comps, embeddingUsed
}

func cappedTermScore(text string, terms map[string]float64, limit float64) float64 {
	var score float64
	for term, weight := range terms {
		if strings.Contains(text, term) {
			score += weight
		}
	}
	if score > limit {
		return limit
	}
	return score
}
