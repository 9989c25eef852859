package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrClosed is returned by sinks written to after Close.
var ErrClosed = errors.New("audit sink closed")

// Sink is an append-only destination for decision records.
// Implementations must never overwrite or reorder records.
type Sink interface {
	Record(ctx context.Context, r Record) error
	Close() error
}

// WriteError reports a failed audit append.
type WriteError struct {
	Sink string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("audit write to %s: %v", e.Sink, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Memory keeps records in process. Used by scenarios and tests.
type Memory struct {
	mu      sync.Mutex
	records []Record
	closed  bool
}

// NewMemory returns an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Record(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return &WriteError{Sink: "memory", Err: ErrClosed}
	}
	m.records = append(m.records, r)
	return nil
}

// Records returns a copy of everything recorded so far, in append order.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Logger writes each record as a structured log line. It is the default
// sink when no durable destination is configured.
type Logger struct {
	log *slog.Logger
}

// NewLogger returns a sink that logs records through l.
func NewLogger(l *slog.Logger) *Logger {
	if l == nil {
		l = slog.Default()
	}
	return &Logger{log: l}
}

func (s *Logger) Record(ctx context.Context, r Record) error {
	s.log.LogAttrs(ctx, slog.LevelInfo, "decision",
		slog.String("decision_id", r.DecisionID),
		slog.String("identity", r.Identity),
		slog.String("session", r.Session),
		slog.String("tool", r.Tool),
		slog.String("decision", r.Decision),
		slog.String("reason", r.Reason),
		slog.String("rule_id", r.RuleID),
		slog.String("stage", r.Stage),
		slog.String("args_digest", r.ArgsDigest),
		slog.String("policy_hash", r.PolicyHash),
	)
	return nil
}

func (s *Logger) Close() error { return nil }

// Discard drops every record.
type Discard struct{}

func (Discard) Record(context.Context, Record) error { return nil }
func (Discard) Close() error                         { return nil }

// Multi fans a record out to several sinks in order. Every sink is
// attempted; the errors are joined.
type Multi []Sink

func (m Multi) Record(ctx context.Context, r Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenSink opens the sink named by kind: "jsonl", "sqlite", "log" or
// "none". File-backed sinks are wrapped in a Queue.
func OpenSink(kind, path string, l *slog.Logger) (Sink, error) {
	switch kind {
	case "jsonl", "file":
		if path == "" {
			return nil, errors.New("audit: jsonl sink needs a path")
		}
		lg, err := Open(path)
		if err != nil {
			return nil, err
		}
		return NewQueue(lg, 256), nil
	case "sqlite":
		if path == "" {
			return nil, errors.New("audit: sqlite sink needs a path")
		}
		st, err := OpenSQL(path)
		if err != nil {
			return nil, err
		}
		return NewQueue(st, 256), nil
	case "log", "":
		return NewLogger(l), nil
	case "none":
		return Discard{}, nil
	default:
		return nil, fmt.Errorf("audit: unknown sink %q", kind)
	}
}
