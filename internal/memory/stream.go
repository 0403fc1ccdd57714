// File: internal/memory/stream.go
package memory

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/usersim-cli/api/schemas"
)

// ErrInvalidRecord is returned when an append is rejected before storage:
// unknown kind or empty content. The log is never touched by a rejected append.
var ErrInvalidRecord = errors.New("invalid memory record")

// NeutralImportance is assigned when a record arrives without an importance
// rating (signalled by a negative value).
const NeutralImportance = 0.5

// Stream is the append-only, timestamp-ordered repository of one session's
// memories. Appends are serialized; reads are snapshot-consistent without
// locking: the writer publishes a new slice header atomically after each
// append, so a reader always sees a stable prefix of the log and never a
// half-written record. There is no deletion API, so the trace stays a
// faithful audit trail.
type Stream struct {
	logger   *zap.Logger
	embedder schemas.Embedder

	mu      sync.Mutex
	records []schemas.MemoryRecord

	// visible holds the published prefix ([]schemas.MemoryRecord). Appends
	// only ever write past the published length, so readers of an older
	// header are unaffected.
	visible atomic.Value

	// clock is the session-relative logical tick, advanced once per append.
	clock atomic.Int64
}

// NewStream creates an empty memory stream. The embedder may be nil, in
// which case records are stored without embeddings and score zero relevance.
func NewStream(logger *zap.Logger, embedder schemas.Embedder) *Stream {
	s := &Stream{
		logger:   logger.Named("memory_stream"),
		embedder: embedder,
	}
	s.visible.Store([]schemas.MemoryRecord(nil))
	return s
}

// Append validates, enriches and stores a record, returning its id.
// The id and created_at tick are assigned here when absent; the embedding is
// computed once over the content if the record arrives without one. A
// negative importance selects the neutral default; anything else is clamped
// to [0,1]. Content and embedding are immutable after this point.
func (s *Stream) Append(ctx context.Context, rec schemas.MemoryRecord) (string, error) {
	if !schemas.ValidMemoryKind(rec.Kind) {
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, rec.Kind)
	}
	if rec.Content == "" {
		return "", fmt.Errorf("%w: empty content", ErrInvalidRecord)
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Importance < 0 || math.IsNaN(rec.Importance) {
		rec.Importance = NeutralImportance
	} else if rec.Importance > 1 {
		rec.Importance = 1
	}

	if rec.Embedding == nil && s.embedder != nil {
		emb, err := s.embedder.Embed(ctx, rec.Content)
		if err != nil {
			return "", fmt.Errorf("embedding content for record %s: %w", rec.ID, err)
		}
		rec.Embedding = emb
	}

	s.mu.Lock()
	rec.CreatedAt = s.clock.Add(1) - 1
	s.records = append(s.records, rec)
	s.visible.Store(s.records)
	s.mu.Unlock()

	s.logger.Debug("Memory appended",
		zap.String("id", rec.ID),
		zap.String("kind", string(rec.Kind)),
		zap.Int64("created_at", rec.CreatedAt))
	return rec.ID, nil
}

// Snapshot returns the stable prefix of the log as of the call. The returned
// slice must be treated as read-only.
func (s *Stream) Snapshot() []schemas.MemoryRecord {
	return s.visible.Load().([]schemas.MemoryRecord)
}

// All returns a lazy, restartable sequence over the records visible when the
// iteration starts, in insertion order.
func (s *Stream) All() iter.Seq[schemas.MemoryRecord] {
	return func(yield func(schemas.MemoryRecord) bool) {
		for _, rec := range s.Snapshot() {
			if !yield(rec) {
				return
			}
		}
	}
}

// Len reports the number of visible records.
func (s *Stream) Len() int {
	return len(s.Snapshot())
}

// Now returns the current logical tick, i.e. the created_at the next append
// would receive.
func (s *Stream) Now() int64 {
	return s.clock.Load()
}

// Recent returns up to n of the most recent records, newest first.
func (s *Stream) Recent(n int) []schemas.MemoryRecord {
	snap := s.Snapshot()
	if n > len(snap) {
		n = len(snap)
	}
	out := make([]schemas.MemoryRecord, 0, n)
	for i := len(snap) - 1; i >= len(snap)-n; i-- {
		out = append(out, snap[i])
	}
	return out
}

// ByKind returns all records of one kind, in insertion order.
func (s *Stream) ByKind(kind schemas.MemoryKind) []schemas.MemoryRecord {
	var out []schemas.MemoryRecord
	for _, rec := range s.Snapshot() {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

// Restore rebuilds a stream from a persisted record sequence, preserving the
// original ids, ticks and embeddings. It fails if the sequence violates the
// non-decreasing created_at invariant.
func (s *Stream) Restore(records []schemas.MemoryRecord) error {
	var last int64 = -1
	for i, rec := range records {
		if !schemas.ValidMemoryKind(rec.Kind) {
			return fmt.Errorf("%w: record %d has unknown kind %q", ErrInvalidRecord, i, rec.Kind)
		}
		if rec.CreatedAt < last {
			return fmt.Errorf("%w: record %d breaks created_at ordering (%d < %d)", ErrInvalidRecord, i, rec.CreatedAt, last)
		}
		last = rec.CreatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append([]schemas.MemoryRecord(nil), records...)
	s.visible.Store(s.records)
	if last >= 0 {
		s.clock.Store(last + 1)
	}
	return nil
}
