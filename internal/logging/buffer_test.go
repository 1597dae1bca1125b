package logging

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type memSink struct {
	mu      sync.Mutex
	batches [][]Line
	err     error
}

func (m *memSink) WriteLines(_ context.Context, lines []Line) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, lines)
	return nil
}

func (m *memSink) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func TestBufferedWriterFlushesOnBatch(t *testing.T) {
	sink := &memSink{}
	w := NewBufferedWriter(sink, 2, zerolog.InfoLevel)
	log := New(Config{Output: &bytes.Buffer{}}, w)

	log.Info().Msg("first")
	if sink.total() != 0 {
		t.Fatalf("Expected nothing flushed yet, got %d", sink.total())
	}
	log.Warn().Msg("second")
	if sink.total() != 2 {
		t.Fatalf("Expected 2 flushed lines, got %d", sink.total())
	}

	first := sink.batches[0][0]
	if first.Level != "info" || first.Message != "first" {
		t.Errorf("Unexpected first line: %+v", first)
	}
	if sink.batches[0][1].Level != "warn" {
		t.Errorf("Expected warn level, got %q", sink.batches[0][1].Level)
	}
}

func TestBufferedWriterFiltersBelowMinLevel(t *testing.T) {
	sink := &memSink{}
	w := NewBufferedWriter(sink, 10, zerolog.InfoLevel)
	log := New(Config{Level: "debug", Output: &bytes.Buffer{}}, w)

	log.Debug().Msg("noise")
	log.Error().Msg("boom")
	if w.Pending() != 1 {
		t.Errorf("Expected 1 pending line, got %d", w.Pending())
	}
}

func TestBufferedWriterCloseFlushesAndRejects(t *testing.T) {
	sink := &memSink{}
	w := NewBufferedWriter(sink, 100, zerolog.InfoLevel)

	if _, err := w.Write([]byte(`{"level":"info","message":"hello"}`)); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Expected no error on close, got %v", err)
	}
	if sink.total() != 1 {
		t.Errorf("Expected close to flush 1 line, got %d", sink.total())
	}
	if err := w.Close(); err != nil {
		t.Errorf("Expected second close to be a no-op, got %v", err)
	}
	if _, err := w.Write([]byte(`{"level":"info","message":"late"}`)); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("Expected ErrWriterClosed, got %v", err)
	}
}

func TestBufferedWriterSinkError(t *testing.T) {
	sink := &memSink{err: errors.New("disk full")}
	w := NewBufferedWriter(sink, 1, zerolog.InfoLevel)

	if _, err := w.Write([]byte(`{"level":"error","message":"x"}`)); err == nil {
		t.Error("Expected sink error to surface from Write")
	}
	if w.Pending() != 0 {
		t.Errorf("Expected failed batch to be dropped, got %d pending", w.Pending())
	}
}

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		in       string
		expected zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"warning", zerolog.WarnLevel},
		{"WARN", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}

	for _, tc := range testCases {
		if got := ParseLevel(tc.in); got != tc.expected {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.expected)
		}
	}
}
