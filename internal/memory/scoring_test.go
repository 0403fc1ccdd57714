// File: internal/memory/scoring_test.go
package memory

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/usersim-cli/api/schemas"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{name: "identical", a: []float64{1, 2, 3}, b: []float64{1, 2, 3}, want: 1},
		{name: "orthogonal", a: []float64{1, 0}, b: []float64{0, 1}, want: 0},
		{name: "opposite", a: []float64{1, 0}, b: []float64{-1, 0}, want: -1},
		{name: "zero vector", a: []float64{0, 0}, b: []float64{1, 1}, want: 0},
		{name: "both zero", a: []float64{0, 0}, b: []float64{0, 0}, want: 0},
		{name: "length mismatch", a: []float64{1, 2}, b: []float64{1, 2, 3}, want: 0},
		{name: "both empty", a: nil, b: nil, want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := CosineSimilarity(tc.a, tc.b)
			assert.False(t, math.IsNaN(got))
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestRecencyDecay(t *testing.T) {
	sc := NewScorer(1.0)

	assert.InDelta(t, 1.0, sc.Recency(0, 0), 1e-9)
	assert.InDelta(t, math.Exp(-3), sc.Recency(3, 0), 1e-9)

	// Future records are treated as brand new, never boosted above 1.
	assert.InDelta(t, 1.0, sc.Recency(0, 5), 1e-9)

	// A non-positive decay constant falls back to the default.
	assert.Equal(t, 1.0, NewScorer(0).Decay)
	assert.Equal(t, 1.0, NewScorer(-2).Decay)
}

// Recency strictly decreases with age for a fixed now, floored at zero.
func TestRecencyMonotonicity(t *testing.T) {
	sc := NewScorer(0.5)
	const now = 100
	prev := math.Inf(1)
	for created := int64(100); created >= 0; created -= 10 {
		r := sc.Recency(now, created)
		assert.Less(t, r, prev)
		assert.Greater(t, r, 0.0)
		prev = r
	}
}

func TestScoreTypeWeight(t *testing.T) {
	sc := NewScorer(1.0)
	rec := schemas.MemoryRecord{
		Kind:       schemas.MemoryReflection,
		Importance: 1.0,
		CreatedAt:  0,
	}
	w := schemas.RetrievalWeights{
		Importance:  1,
		TypeWeights: map[schemas.MemoryKind]float64{schemas.MemoryReflection: 0.5},
	}

	assert.InDelta(t, 0.5, sc.Score(rec, nil, 0, w), 1e-9)

	// Kinds without an explicit weight multiply by 1.
	rec.Kind = schemas.MemoryObservation
	assert.InDelta(t, 1.0, sc.Score(rec, nil, 0, w), 1e-9)
}

func TestScoreClampsNegativeRelevance(t *testing.T) {
	sc := NewScorer(1.0)
	rec := schemas.MemoryRecord{
		Kind:      schemas.MemoryObservation,
		Embedding: []float64{-1, 0},
		CreatedAt: 0,
	}
	w := schemas.RetrievalWeights{Relevance: 1}

	// An opposed embedding contributes zero, not a negative score.
	assert.InDelta(t, 0, sc.Score(rec, []float64{1, 0}, 0, w), 1e-9)
}

func TestRetrieveReturnsSeededObservation(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float64{
		"search": {0.9, 0.1, 0},
	}}
	s := newTestStream(t, emb)

	_, err := s.Append(context.Background(), schemas.MemoryRecord{
		Kind:       schemas.MemoryObservation,
		Content:    "search box labeled Search",
		Importance: 0.6,
	})
	require.NoError(t, err)

	w := schemas.RetrievalWeights{Importance: 1, Relevance: 1, Recency: 1}
	got, err := s.Retrieve(context.Background(), "where do I search", 0, 1, w, NewScorer(1.0))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "search box labeled Search", got[0].Content)
}

func TestRetrieveOrderingAndLimit(t *testing.T) {
	s := newTestStream(t, nil)

	records := []schemas.MemoryRecord{
		{Kind: schemas.MemoryObservation, Content: "low importance", Importance: 0.1},
		{Kind: schemas.MemoryObservation, Content: "high importance", Importance: 0.9},
		{Kind: schemas.MemoryObservation, Content: "medium importance", Importance: 0.5},
	}
	for _, rec := range records {
		_, err := s.Append(context.Background(), rec)
		require.NoError(t, err)
	}

	// Importance-only weights so the ordering is fully explicit.
	w := schemas.RetrievalWeights{Importance: 1}
	got, err := s.Retrieve(context.Background(), "", 3, 2, w, NewScorer(1.0))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "high importance", got[0].Content)
	assert.Equal(t, "medium importance", got[1].Content)
}

func TestRetrieveTiesFavorRecent(t *testing.T) {
	s := newTestStream(t, nil)

	for _, content := range []string{"first", "second", "third"} {
		_, err := s.Append(context.Background(), schemas.MemoryRecord{
			Kind:       schemas.MemoryObservation,
			Content:    content,
			Importance: 0.5,
		})
		require.NoError(t, err)
	}

	// Identical importance, no relevance or recency weight: all scores tie,
	// so the newer record wins.
	w := schemas.RetrievalWeights{Importance: 1}
	got, err := s.Retrieve(context.Background(), "", 2, 3, w, NewScorer(1.0))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "third", got[0].Content)
	assert.Equal(t, "second", got[1].Content)
	assert.Equal(t, "first", got[2].Content)
}

func TestRetrieveIsDeterministic(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float64{
		"jacket": {0, 1, 0},
		"shoes":  {0, 0, 1},
	}}
	s := newTestStream(t, emb)

	contents := []string{
		"a blue jacket in the banner",
		"shoes on sale",
		"a jacket size chart",
		"checkout button in the corner",
	}
	for _, c := range contents {
		_, err := s.Append(context.Background(), schemas.MemoryRecord{
			Kind:    schemas.MemoryObservation,
			Content: c,
		})
		require.NoError(t, err)
	}

	w := schemas.DefaultRetrievalWeights()
	first, err := s.Retrieve(context.Background(), "find the jacket", 10, 4, w, NewScorer(1.0))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := s.Retrieve(context.Background(), "find the jacket", 10, 4, w, NewScorer(1.0))
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRetrieveEmptyStream(t *testing.T) {
	s := newTestStream(t, nil)
	got, err := s.Retrieve(context.Background(), "anything", 0, 5, schemas.DefaultRetrievalWeights(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
