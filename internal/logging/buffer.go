package logging

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Line is one persisted log entry.
type Line struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Raw     string    `json:"raw,omitempty"`
}

// LineSink stores batches of log lines.
type LineSink interface {
	WriteLines(ctx context.Context, lines []Line) error
}

var ErrWriterClosed = errors.New("logging: buffered writer closed")

// BufferedWriter batches log events and hands them to a LineSink.
// Lines are flushed when the batch fills, on Flush, and on Close. Callers own
// the lifecycle and must Close it; there is no finalizer.
type BufferedWriter struct {
	mu       sync.Mutex
	sink     LineSink
	batch    int
	minLevel zerolog.Level
	buf      []Line
	closed   bool
}

// NewBufferedWriter persists events at or above minLevel in batches of size batch.
func NewBufferedWriter(sink LineSink, batch int, minLevel zerolog.Level) *BufferedWriter {
	if batch <= 0 {
		batch = 50
	}
	return &BufferedWriter{sink: sink, batch: batch, minLevel: minLevel}
}

// Write is used when the writer is not wrapped by a level-aware multi writer.
func (w *BufferedWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.NoLevel, p)
}

// WriteLevel implements zerolog.LevelWriter.
func (w *BufferedWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	var ev struct {
		Level   string `json:"level"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(p, &ev)

	if level == zerolog.NoLevel && ev.Level != "" {
		if l, err := zerolog.ParseLevel(ev.Level); err == nil {
			level = l
		}
	}
	if level != zerolog.NoLevel && level < w.minLevel {
		return len(p), nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrWriterClosed
	}

	w.buf = append(w.buf, Line{
		Time:    time.Now().UTC(),
		Level:   levelName(level, ev.Level),
		Message: ev.Message,
		Raw:     string(p),
	})
	if len(w.buf) >= w.batch {
		if err := w.flushLocked(); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// Flush writes any buffered lines to the sink.
func (w *BufferedWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

// Close flushes and rejects further writes. It is safe to call twice.
func (w *BufferedWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.flushLocked()
}

// Pending returns the number of buffered, unflushed lines.
func (w *BufferedWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}

func (w *BufferedWriter) flushLocked() error {
	if len(w.buf) == 0 {
		return nil
	}
	lines := w.buf
	w.buf = nil

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.sink.WriteLines(ctx, lines)
}

func levelName(l zerolog.Level, fallback string) string {
	if l == zerolog.NoLevel {
		if fallback == "" {
			return "info"
		}
		return fallback
	}
	return l.String()
}
