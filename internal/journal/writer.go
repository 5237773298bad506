package journal

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/switchyard/internal/log"
)

const defaultBuffer = 1024

// Writer inserts entries asynchronously.
type Writer struct {
	journal *Journal

	mu      sync.RWMutex
	closed  bool
	entries chan Entry
	done    chan struct{}

	dropped atomic.Int64
	logger  *slog.Logger
}

// NewWriter starts a writer goroutine with room for buffer pending entries.
func NewWriter(j *Journal, buffer int) *Writer {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	w := &Writer{
		journal: j,
		entries: make(chan Entry, buffer),
		done:    make(chan struct{}),
		logger:  log.WithComponent("journal"),
	}
	go w.run()
	return w
}

// Record queues e for insertion without blocking.
func (w *Writer) Record(e Entry) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.dropped.Add(1)
		return
	}
	select {
	case w.entries <- e:
	default:
		if n := w.dropped.Add(1); n == 1 || n%1000 == 0 {
			w.logger.Warn("journal buffer full; dropping entries", "dropped", n)
		}
	}
}

// Dropped reports how many entries were never written.
func (w *Writer) Dropped() int64 { return w.dropped.Load() }

// Close stops accepting entries and waits for the buffer to be written.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.entries)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for e := range w.entries {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.journal.Insert(ctx, e); err != nil {
			w.dropped.Add(1)
			w.logger.Error("failed to write journal entry", "call_id", e.CallID, "error", err)
		}
		cancel()
	}
}
