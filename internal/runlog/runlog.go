// Package runlog writes the per-run generation log: an append-only JSONL file
// recording every pipeline stage, decision and failure so a finished episode
// can be audited afterwards.
package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Event statuses.
const (
	StatusInfo     = "info"
	StatusDecision = "decision"
	StatusSkipped  = "skipped"
	StatusError    = "error"
)

// Event is one log record. Seq is monotonic within a run.
type Event struct {
	Seq     int            `json:"seq"`
	TS      time.Time      `json:"ts"`
	Stage   string         `json:"stage"`
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Logger appends events to a JSONL file. Safe for concurrent use.
type Logger struct {
	mu   sync.Mutex
	f    *os.File
	enc  *json.Encoder
	seq  int
	path string
}

// New opens (creating parent directories as needed) the log file for append.
func New(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create run log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) // #nosec G304 -- path is built from the configured output dir
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}
	return &Logger{f: f, enc: json.NewEncoder(f), path: path}, nil
}

// Path returns the log file location.
func (l *Logger) Path() string { return l.path }

// Event appends an info record.
func (l *Logger) Event(stage, message string, payload map[string]any) {
	l.append(stage, StatusInfo, message, payload)
}

// Decision appends a record of a branch the pipeline took.
func (l *Logger) Decision(stage, message string, payload map[string]any) {
	l.append(stage, StatusDecision, message, payload)
}

// Skipped appends a record of work the pipeline dropped and moved past.
func (l *Logger) Skipped(stage, message string, payload map[string]any) {
	l.append(stage, StatusSkipped, message, payload)
}

// Exception appends an error record with the error text and a stack trace.
func (l *Logger) Exception(stage string, err error) {
	l.append(stage, StatusError, err.Error(), map[string]any{
		"error_type": fmt.Sprintf("%T", err),
		"stack":      string(debug.Stack()),
	})
}

func (l *Logger) append(stage, status, message string, payload map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	ev := Event{
		Seq:     l.seq,
		TS:      time.Now().UTC(),
		Stage:   stage,
		Status:  status,
		Message: message,
		Payload: payload,
	}
	if err := l.enc.Encode(ev); err != nil {
		// a broken run log must never break the run itself
		log.Warn().Err(err).Str("stage", stage).Msg("failed to write run log event")
	}
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
