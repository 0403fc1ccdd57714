// internal/store/file.go
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/usersim-cli/api/schemas"
)

// FileSink writes session traces as pretty-printed JSON files and lifecycle
// events as a JSON-lines log per session. It is the default backend so runs
// work out of the box without a database.
type FileSink struct {
	dir string
	log *zap.Logger

	mu        sync.Mutex
	eventLogs map[string]*os.File
}

var _ schemas.TraceSink = (*FileSink)(nil)

// NewFileSink ensures the trace directory exists.
func NewFileSink(dir string, logger *zap.Logger) (*FileSink, error) {
	if dir == "" {
		dir = "traces"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create trace directory %s: %w", dir, err)
	}
	return &FileSink{
		dir:       dir,
		log:       logger.Named("store.file"),
		eventLogs: make(map[string]*os.File),
	}, nil
}

// OnTransition appends one event line to the session's event log.
func (s *FileSink) OnTransition(_ context.Context, ev schemas.SessionEvent) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal session event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.eventLogs[ev.SessionID]
	if !ok {
		path := filepath.Join(s.dir, ev.SessionID+".events.jsonl")
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open event log %s: %w", path, err)
		}
		s.eventLogs[ev.SessionID] = f
	}

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write session event: %w", err)
	}
	return nil
}

// SaveTrace writes the complete trace to <session_id>.json and closes the
// session's event log.
func (s *FileSink) SaveTrace(_ context.Context, trace *schemas.SessionTrace) error {
	data, err := json.MarshalIndent(trace, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}

	path := filepath.Join(s.dir, trace.SessionID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write trace %s: %w", path, err)
	}

	s.mu.Lock()
	if f, ok := s.eventLogs[trace.SessionID]; ok {
		_ = f.Close()
		delete(s.eventLogs, trace.SessionID)
	}
	s.mu.Unlock()

	s.log.Info("Session trace written",
		zap.String("session_id", trace.SessionID),
		zap.String("path", path))
	return nil
}

// LoadTrace reads a previously saved trace back, for replaying or rescoring
// a finished session.
func (s *FileSink) LoadTrace(sessionID string) (*schemas.SessionTrace, error) {
	path := filepath.Join(s.dir, sessionID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace %s: %w", path, err)
	}
	var trace schemas.SessionTrace
	if err := json.Unmarshal(data, &trace); err != nil {
		return nil, fmt.Errorf("failed to parse trace %s: %w", path, err)
	}
	return &trace, nil
}

// Close releases any event logs still open.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for id, f := range s.eventLogs {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.eventLogs, id)
	}
	return firstErr
}
