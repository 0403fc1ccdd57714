// File: internal/memory/scoring.go
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/xkilldash9x/usersim-cli/api/schemas"
)

// Scorer ranks memories against a query embedding using the weighted blend
// of importance, relevance and recency, scaled by a per-kind type weight.
type Scorer struct {
	// Decay controls how fast recency falls off with logical age.
	Decay float64
}

// NewScorer returns a scorer with the given exponential decay constant.
// Non-positive values fall back to 1.0.
func NewScorer(decay float64) *Scorer {
	if decay <= 0 {
		decay = 1.0
	}
	return &Scorer{Decay: decay}
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths, empty vectors and zero-magnitude vectors all yield 0,
// never NaN.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Recency maps logical age to (0,1] via exponential decay. Future timestamps
// are treated as age zero.
func (sc *Scorer) Recency(now, createdAt int64) float64 {
	age := float64(now - createdAt)
	if age < 0 {
		age = 0
	}
	return math.Exp(-sc.Decay * age)
}

// Score computes the composite retrieval score for one record.
func (sc *Scorer) Score(rec schemas.MemoryRecord, query []float64, now int64, w schemas.RetrievalWeights) float64 {
	relevance := CosineSimilarity(rec.Embedding, query)
	if relevance < 0 {
		relevance = 0
	} else if relevance > 1 {
		relevance = 1
	}
	base := w.Importance*rec.Importance + w.Relevance*relevance + w.Recency*sc.Recency(now, rec.CreatedAt)
	return base * w.TypeWeight(rec.Kind)
}

// scored pairs a record with its computed score for ranking.
type scored struct {
	rec   schemas.MemoryRecord
	score float64
}

// Retrieve embeds the query, scores every visible record against the given
// logical time and returns up to limit records ordered by descending score.
// Ties break toward the more recent record; remaining ties preserve
// insertion order. A nil embedder or an empty stream yields an empty result
// rather than an error.
func (s *Stream) Retrieve(ctx context.Context, query string, now int64, limit int, weights schemas.RetrievalWeights, scorer *Scorer) ([]schemas.MemoryRecord, error) {
	snap := s.Snapshot()
	if len(snap) == 0 || limit <= 0 {
		return nil, nil
	}
	if scorer == nil {
		scorer = NewScorer(1.0)
	}

	var queryEmb []float64
	if s.embedder != nil && query != "" {
		emb, err := s.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embedding retrieval query: %w", err)
		}
		queryEmb = emb
	}

	ranked := make([]scored, len(snap))
	for i, rec := range snap {
		ranked[i] = scored{rec: rec, score: scorer.Score(rec, queryEmb, now, weights)}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].rec.CreatedAt > ranked[j].rec.CreatedAt
	})

	if limit > len(ranked) {
		limit = len(ranked)
	}
	out := make([]schemas.MemoryRecord, limit)
	for i := range out {
		out[i] = ranked[i].rec
	}
	return out, nil
}
