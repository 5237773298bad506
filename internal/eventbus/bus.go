// Package eventbus is a named pub/sub fabric layered on dispatch queues.
//
// Services join channels by name. Publishing an event enqueues one copy of
// the Call onto every subscriber's queue, so each subscriber sees events in
// publish order on its own execution context. A channel with no
// subscribers drops events silently.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/switchyard/internal/events"
	"github.com/mattjoyce/switchyard/internal/log"
	"github.com/mattjoyce/switchyard/internal/message"
)

// Subscriber is the receiving side of a channel, normally a dispatch.Queue.
type Subscriber interface {
	Service() string
	Enqueue(call *message.Call) error
}

// Relay forwards published events to something outside the process.
type Relay interface {
	Forward(ctx context.Context, bus, channel string, call *message.Call) error
}

type channel struct {
	// subs is replaced wholesale on join/leave; publishers read a snapshot.
	subs atomic.Pointer[[]Subscriber]
}

func (c *channel) snapshot() []Subscriber {
	if p := c.subs.Load(); p != nil {
		return *p
	}
	return nil
}

// Option configures a Bus.
type Option func(*Bus)

// WithRelay forwards every published event to r in the background.
func WithRelay(r Relay) Option { return func(b *Bus) { b.relay = r } }

// WithRelayLimits bounds the relay buffer and the time spent on each forward.
func WithRelayLimits(buffer int, timeout time.Duration) Option {
	return func(b *Bus) {
		b.relayBuffer = buffer
		b.relayTimeout = timeout
	}
}

// WithEvents reports publishes on the observability feed.
func WithEvents(p events.Publisher) Option { return func(b *Bus) { b.events = p } }

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option { return func(b *Bus) { b.logger = l } }

// Bus owns its channel table. Separate buses never share channels.
type Bus struct {
	name string

	mu       sync.Mutex
	channels map[string]*channel

	relay        Relay
	relayBuffer  int
	relayTimeout time.Duration
	fwd          *forwarder

	events events.Publisher
	logger *slog.Logger
}

// New creates an empty Bus.
func New(name string, opts ...Option) *Bus {
	b := &Bus{
		name:     name,
		channels: make(map[string]*channel),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = log.WithComponent("eventbus")
	}
	b.logger = b.logger.With("bus", name)
	if b.relay != nil {
		b.fwd = newForwarder(b.relay, name, b.relayBuffer, b.relayTimeout, b.logger)
	}
	return b
}

// Close stops relaying and waits for buffered events to be forwarded.
// Publishing keeps working for local subscribers afterwards.
func (b *Bus) Close(ctx context.Context) error {
	if b.fwd == nil {
		return nil
	}
	return b.fwd.close(ctx)
}

// RelayDropped reports events that never reached the relay because its
// buffer was full or the bus was closed.
func (b *Bus) RelayDropped() int64 {
	if b.fwd == nil {
		return 0
	}
	return b.fwd.dropped.Load()
}

// RelayFailed reports forwards the relay rejected or that timed out.
func (b *Bus) RelayFailed() int64 {
	if b.fwd == nil {
		return 0
	}
	return b.fwd.failed.Load()
}

// Name returns the bus name.
func (b *Bus) Name() string { return b.name }

// JoinService subscribes sub to each channel. Joining a channel twice is a
// no-op.
func (b *Bus) JoinService(sub Subscriber, channels ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, name := range channels {
		ch := b.channelLocked(name)
		cur := ch.snapshot()
		if slices.ContainsFunc(cur, func(s Subscriber) bool { return s == sub }) {
			continue
		}
		next := make([]Subscriber, len(cur), len(cur)+1)
		copy(next, cur)
		next = append(next, sub)
		ch.subs.Store(&next)
		b.logger.Debug("service joined channel", "service", sub.Service(), "channel", name)
	}
}

// Leave removes sub from channel.
func (b *Bus) Leave(sub Subscriber, channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.channels[channel]
	if !ok {
		return
	}
	next := slices.DeleteFunc(slices.Clone(ch.snapshot()), func(s Subscriber) bool { return s == sub })
	ch.subs.Store(&next)
}

// Subscribers lists the services subscribed to channel, in join order.
func (b *Bus) Subscribers(channel string) []string {
	b.mu.Lock()
	ch, ok := b.channels[channel]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	subs := ch.snapshot()
	out := make([]string, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.Service())
	}
	return out
}

// Channels lists every channel that has been joined, sorted.
func (b *Bus) Channels() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.channels))
	for name := range b.channels {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Publish fans call out to every subscriber of channel. Subscribers that
// refuse the event do not stop delivery to the rest; their errors are
// joined into the result. Relay failures are logged and counted, never
// returned.
func (b *Bus) Publish(channel string, call *message.Call) error {
	if call == nil {
		return fmt.Errorf("publish %s: nil call", channel)
	}

	b.mu.Lock()
	ch, ok := b.channels[channel]
	b.mu.Unlock()

	var subs []Subscriber
	if ok {
		subs = ch.snapshot()
	}

	var errs []error
	for _, sub := range subs {
		if err := sub.Enqueue(call.ForSubscriber(sub.Service(), channel)); err != nil {
			b.logger.Warn("fan-out failed", "channel", channel, "service", sub.Service(), "error", err)
			errs = append(errs, fmt.Errorf("deliver to %s: %w", sub.Service(), err))
		}
	}

	if b.fwd != nil {
		b.fwd.offer(channel, call)
	}

	if b.events != nil {
		b.events.Publish(events.BusPublished, map[string]any{
			"bus":         b.name,
			"channel":     channel,
			"call_id":     call.ID,
			"subscribers": len(subs),
		})
	}

	if len(errs) > 0 {
		return fmt.Errorf("publish %s: %w", channel, errors.Join(errs...))
	}
	return nil
}

func (b *Bus) channelLocked(name string) *channel {
	ch, ok := b.channels[name]
	if !ok {
		ch = &channel{}
		b.channels[name] = ch
	}
	return ch
}
