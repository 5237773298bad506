package eventbus

import (
	"errors"
	"sync"

	"github.com/mattjoyce/switchyard/internal/message"
)

type outboxEntry struct {
	channel string
	call    *message.Call
}

// Outbox buffers events a service emits while it handles a batch. The
// buffer is published in order on Flush, which services normally hook to
// their queue's on-empty and on-limit callbacks.
type Outbox struct {
	bus   *Bus
	owner string
	limit int

	mu      sync.Mutex
	pending []outboxEntry
}

// NewOutbox creates an Outbox for owner. When limit is positive, Send
// flushes once that many events are buffered.
func NewOutbox(bus *Bus, owner string, limit int) *Outbox {
	return &Outbox{bus: bus, owner: owner, limit: limit}
}

// Send buffers an event for channel. The event method is the channel name.
func (o *Outbox) Send(channel string, args ...any) error {
	call := message.NewCall(o.owner, channel, args...)

	o.mu.Lock()
	o.pending = append(o.pending, outboxEntry{channel: channel, call: call})
	full := o.limit > 0 && len(o.pending) >= o.limit
	o.mu.Unlock()

	if full {
		return o.Flush()
	}
	return nil
}

// Flush publishes everything buffered so far, oldest first.
func (o *Outbox) Flush() error {
	o.mu.Lock()
	batch := o.pending
	o.pending = nil
	o.mu.Unlock()

	var errs []error
	for _, e := range batch {
		if err := o.bus.Publish(e.channel, e.call); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pending reports the number of buffered events.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}
