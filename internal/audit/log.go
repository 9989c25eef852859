package audit

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ppiankov/toolgate/internal/model"
)

// GenesisHash is the prev_hash for the first entry in a new audit log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// Log is an append-only JSONL audit log with SHA-256 hash chaining.
// Each entry's prev_hash is the hash of the previous entry's JSON line,
// forming a tamper-evident chain.
type Log struct {
	path     string
	file     *os.File
	prevHash string
	closed   bool
	mu       sync.Mutex
}

// Open opens (or creates) an audit log file for appending.
// If the file already exists, it reads the last line to recover the chain tail.
func Open(path string) (*Log, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	prevHash := GenesisHash

	// Read existing file to find chain tail
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		tail, err := lastLine(path)
		if err != nil {
			return nil, err
		}
		if len(tail) > 0 {
			prevHash = HashLine(tail)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}

	return &Log{
		path:     path,
		file:     file,
		prevHash: prevHash,
	}, nil
}

func lastLine(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: read existing log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	var last []byte
	for scanner.Scan() {
		last = append(last[:0], scanner.Bytes()...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan existing log: %w", err)
	}
	return last, nil
}

// maxLineSize bounds a single audit line when reading logs back.
const maxLineSize = 1 << 20

// Path returns the log file location.
func (l *Log) Path() string { return l.path }

// Record appends r with hash chaining. It sets PrevHash and, when empty,
// Timestamp, writes the line and syncs to disk.
func (l *Log) Record(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return &WriteError{Sink: "jsonl", Err: err}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return &WriteError{Sink: "jsonl", Err: ErrClosed}
	}
	if r.Timestamp == "" {
		r.Timestamp = model.UTCISO(time.Now())
	}
	r.PrevHash = l.prevHash

	line, err := json.Marshal(r)
	if err != nil {
		return &WriteError{Sink: "jsonl", Err: fmt.Errorf("marshal entry: %w", err)}
	}

	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return &WriteError{Sink: "jsonl", Err: fmt.Errorf("write entry: %w", err)}
	}

	if err := l.file.Sync(); err != nil {
		return &WriteError{Sink: "jsonl", Err: fmt.Errorf("sync: %w", err)}
	}

	l.prevHash = HashLine(line)
	return nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
