// internal/store/postgres.go
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/usersim-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// PostgresSink persists session events and finished traces to PostgreSQL.
// Events are written row by row as they happen; the full trace lands in one
// transaction at termination so a crash never leaves a half-written trace.
type PostgresSink struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.TraceSink = (*PostgresSink)(nil)

// NewPostgresSink verifies the connection and ensures the schema exists.
func NewPostgresSink(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresSink, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresSink{
		pool: pool,
		log:  logger.Named("store.postgres"),
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	persona     JSONB NOT NULL,
	intent      TEXT NOT NULL,
	target_url  TEXT NOT NULL,
	state       TEXT NOT NULL,
	reason      TEXT NOT NULL,
	cycles      INT NOT NULL,
	slow_cycles INT NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS memory_records (
	session_id  TEXT NOT NULL,
	seq         INT NOT NULL,
	id          TEXT NOT NULL,
	kind        TEXT NOT NULL,
	content     TEXT NOT NULL,
	created_at  BIGINT NOT NULL,
	source_stage TEXT NOT NULL,
	embedding   DOUBLE PRECISION[],
	importance  DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (session_id, seq)
);
CREATE TABLE IF NOT EXISTS commands (
	session_id  TEXT NOT NULL,
	seq         INT NOT NULL,
	type        TEXT NOT NULL,
	target_name TEXT NOT NULL,
	value       TEXT NOT NULL,
	description TEXT NOT NULL,
	PRIMARY KEY (session_id, seq)
);
CREATE TABLE IF NOT EXISTS session_events (
	session_id  TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	state       TEXT NOT NULL,
	phase       TEXT NOT NULL,
	cycle       INT NOT NULL,
	detail      TEXT NOT NULL
);
`

func (s *PostgresSink) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// OnTransition records one lifecycle event. A failed insert is reported but
// must never stop a running session, so callers treat the error as advisory.
func (s *PostgresSink) OnTransition(ctx context.Context, ev schemas.SessionEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_events (session_id, state, phase, cycle, detail)
		VALUES ($1, $2, $3, $4, $5);
	`, ev.SessionID, string(ev.State), ev.Phase, ev.Cycle, ev.Detail)
	if err != nil {
		return fmt.Errorf("failed to insert session event: %w", err)
	}
	return nil
}

// SaveTrace writes the finished session in a single transaction.
func (s *PostgresSink) SaveTrace(ctx context.Context, trace *schemas.SessionTrace) error {
	persona, err := json.Marshal(trace.Persona)
	if err != nil {
		return fmt.Errorf("failed to marshal persona: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO sessions (id, persona, intent, target_url, state, reason, cycles, slow_cycles)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`, trace.SessionID, persona, trace.Intent, trace.TargetURL,
		string(trace.State), string(trace.Reason), trace.Cycles, trace.SlowCycles)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	if len(trace.Records) > 0 {
		rows := make([][]any, len(trace.Records))
		for i, rec := range trace.Records {
			rows[i] = []any{
				trace.SessionID, i, rec.ID, string(rec.Kind), rec.Content,
				rec.CreatedAt, rec.SourceStage, rec.Embedding, rec.Importance,
			}
		}
		copied, err := tx.CopyFrom(ctx,
			pgx.Identifier{"memory_records"},
			[]string{"session_id", "seq", "id", "kind", "content", "created_at", "source_stage", "embedding", "importance"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to copy memory records: %w", err)
		}
		if int(copied) != len(trace.Records) {
			return fmt.Errorf("mismatch in copied record count: expected %d, got %d", len(trace.Records), copied)
		}
	}

	if len(trace.Commands) > 0 {
		rows := make([][]any, len(trace.Commands))
		for i, cmd := range trace.Commands {
			rows[i] = []any{
				trace.SessionID, i, string(cmd.Type), cmd.TargetName, cmd.Value, cmd.Description,
			}
		}
		copied, err := tx.CopyFrom(ctx,
			pgx.Identifier{"commands"},
			[]string{"session_id", "seq", "type", "target_name", "value", "description"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to copy commands: %w", err)
		}
		if int(copied) != len(trace.Commands) {
			return fmt.Errorf("mismatch in copied command count: expected %d, got %d", len(trace.Commands), copied)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Info("Session trace persisted",
		zap.String("session_id", trace.SessionID),
		zap.Int("records", len(trace.Records)),
		zap.Int("commands", len(trace.Commands)))
	return nil
}

// LoadRecords reads a session's memory records back in insertion order.
// The stored attributes are sufficient to replay any retrieval scoring
// computation against the original stream.
func (s *PostgresSink) LoadRecords(ctx context.Context, sessionID string) ([]schemas.MemoryRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, content, created_at, source_stage, embedding, importance
		FROM memory_records
		WHERE session_id = $1
		ORDER BY seq;
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memory records: %w", err)
	}
	defer rows.Close()

	var records []schemas.MemoryRecord
	for rows.Next() {
		var rec schemas.MemoryRecord
		var kind string
		if err := rows.Scan(&rec.ID, &kind, &rec.Content, &rec.CreatedAt, &rec.SourceStage, &rec.Embedding, &rec.Importance); err != nil {
			return nil, fmt.Errorf("failed to scan memory record: %w", err)
		}
		rec.Kind = schemas.MemoryKind(kind)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading memory records: %w", err)
	}
	return records, nil
}
