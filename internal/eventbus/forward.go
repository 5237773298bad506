package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/switchyard/internal/message"
)

const (
	defaultRelayBuffer  = 1024
	defaultRelayTimeout = 5 * time.Second
)

type forward struct {
	channel string
	call    *message.Call
}

// forwarder hands events to a Relay off the publishing goroutine. Publish
// runs on a service's consumer, which must never wait on broker I/O.
type forwarder struct {
	relay   Relay
	bus     string
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	pending chan forward
	done    chan struct{}

	dropped atomic.Int64
	failed  atomic.Int64
	logger  *slog.Logger
}

func newForwarder(r Relay, bus string, buffer int, timeout time.Duration, logger *slog.Logger) *forwarder {
	if buffer <= 0 {
		buffer = defaultRelayBuffer
	}
	if timeout <= 0 {
		timeout = defaultRelayTimeout
	}
	f := &forwarder{
		relay:   r,
		bus:     bus,
		timeout: timeout,
		pending: make(chan forward, buffer),
		done:    make(chan struct{}),
		logger:  logger,
	}
	go f.run()
	return f
}

// offer queues the event without blocking. It reports false when the event
// was dropped.
func (f *forwarder) offer(channel string, call *message.Call) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		f.dropped.Add(1)
		return false
	}
	select {
	case f.pending <- forward{channel: channel, call: call}:
		return true
	default:
		if n := f.dropped.Add(1); n == 1 || n%1000 == 0 {
			f.logger.Warn("relay buffer full; dropping events", "dropped", n)
		}
		return false
	}
}

func (f *forwarder) close(ctx context.Context) error {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.pending)
	}
	f.mu.Unlock()

	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *forwarder) run() {
	defer close(f.done)
	for fw := range f.pending {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		if err := f.relay.Forward(ctx, f.bus, fw.channel, fw.call); err != nil {
			f.failed.Add(1)
			f.logger.Warn("relay forward failed", "channel", fw.channel, "call_id", fw.call.ID, "error", err)
		}
		cancel()
	}
}
