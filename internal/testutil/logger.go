// Package testutil provides test utilities for structured logging.
package testutil

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// NewTestLogger returns a debug logger that writes to t.Log, so output
// only shows on failure or with -v.
func NewTestLogger(t testing.TB) *slog.Logger {
	logger, _ := NewRecordingLogger(t)
	return logger
}

// Recorder keeps the text of every log line written through a recording
// logger.
type Recorder struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewRecordingLogger is NewTestLogger that also records its output.
func NewRecordingLogger(t testing.TB) (*slog.Logger, *Recorder) {
	t.Helper()
	rec := &Recorder{}
	h := slog.NewTextHandler(testWriter{t: t, rec: rec}, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(h), rec
}

// Contains reports whether a line at level holds msg.
func (r *Recorder) Contains(level slog.Level, msg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	tag := "level=" + level.String()
	for _, line := range strings.Split(r.buf.String(), "\n") {
		if strings.Contains(line, tag) && strings.Contains(line, msg) {
			return true
		}
	}
	return false
}

type testWriter struct {
	t   testing.TB
	rec *Recorder
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.rec.mu.Lock()
	w.rec.buf.Write(p)
	w.rec.mu.Unlock()
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}
