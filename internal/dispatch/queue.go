package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/mattjoyce/switchyard/internal/log"
	"github.com/mattjoyce/switchyard/internal/message"
	"github.com/mattjoyce/switchyard/internal/service"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 50 * time.Millisecond
	defaultCapacity      = 1024
)

// Config controls batching and the batch-boundary hooks of a Queue.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	// Capacity is the number of handed-off batches that may wait for the consumer.
	Capacity int

	// Responses receives the Response of every call that expects a reply.
	Responses message.Receiver

	OnEmpty func()
	OnLimit func()

	Logger *slog.Logger
}

// Queue serializes execution against one bound service.
type Queue struct {
	def *service.Definition
	cfg Config

	mu          sync.Mutex
	pending     []*message.Call
	lastEnqueue time.Time
	closed      bool

	batches chan []*message.Call
	stopCh  chan struct{}
	done    chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	logger *slog.Logger
}

// New creates a Queue bound to def. The definition is validated here.
func New(def *service.Definition, cfg Config) (*Queue, error) {
	if def == nil {
		return nil, fmt.Errorf("service definition is nil")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultCapacity
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithComponent("dispatch")
	}

	return &Queue{
		def:     def,
		cfg:     cfg,
		pending: make([]*message.Call, 0, cfg.BatchSize),
		batches: make(chan []*message.Call, cfg.Capacity),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger.With("service", def.Name),
	}, nil
}

// Service returns the name of the bound service.
func (q *Queue) Service() string { return q.def.Name }

// Definition returns the bound service definition.
func (q *Queue) Definition() *service.Definition { return q.def }

// Start launches the consumer goroutine. Calling Start twice is a no-op.
func (q *Queue) Start() {
	q.startOnce.Do(func() {
		go q.loop()
	})
}

// Enqueue appends call to the pending batch. It never blocks: a closed
// queue returns message.ErrQueueClosed and a queue whose batch buffer is
// saturated returns message.ErrQueueFull.
func (q *Queue) Enqueue(call *message.Call) error {
	if call == nil {
		return fmt.Errorf("enqueue: nil call")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("enqueue %s.%s: %w", q.def.Name, call.Method, message.ErrQueueClosed)
	}
	// A full batch is still waiting from an earlier failed hand-off.
	if len(q.pending) >= q.cfg.BatchSize && !q.handOffLocked() {
		return fmt.Errorf("enqueue %s.%s: %w", q.def.Name, call.Method, message.ErrQueueFull)
	}

	q.pending = append(q.pending, call)
	q.lastEnqueue = time.Now()

	if len(q.pending) >= q.cfg.BatchSize {
		// If the buffer is full the batch stays pending; the call is accepted.
		q.handOffLocked()
	}
	return nil
}

// FlushSends hands the current pending batch to the consumer now. Calls
// enqueued concurrently either make it into this batch or the next one.
func (q *Queue) FlushSends() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	if !q.handOffLocked() {
		return fmt.Errorf("flush %s: %w", q.def.Name, message.ErrQueueFull)
	}
	return nil
}

// Depth reports pending calls plus batches waiting for the consumer.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + len(q.batches)
}

// Stop refuses new calls, hands the last pending batch to the consumer,
// waits for everything to execute and stops the consumer. Outstanding
// requests whose calls never ran are left to the timeout sweep.
func (q *Queue) Stop(ctx context.Context) error {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		last := q.pending
		q.pending = nil
		q.mu.Unlock()

		q.Start()
		go func() {
			if len(last) > 0 {
				select {
				case q.batches <- last:
				case <-ctx.Done():
					q.logger.Warn("dropping final batch on shutdown", "calls", len(last))
				}
			}
			close(q.stopCh)
		}()
	})

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop %s: %w", q.def.Name, ctx.Err())
	}
}

// handOffLocked moves the pending batch onto the consumer buffer without
// blocking. Callers hold q.mu.
func (q *Queue) handOffLocked() bool {
	select {
	case q.batches <- q.pending:
		q.pending = make([]*message.Call, 0, q.cfg.BatchSize)
		return true
	default:
		return false
	}
}

func (q *Queue) loop() {
	defer close(q.done)

	q.logger.Debug("dispatch queue started")
	defer q.logger.Debug("dispatch queue stopped")

	ticker := time.NewTicker(q.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case batch := <-q.batches:
			q.process(batch)
		case <-ticker.C:
			q.idleFlush()
		case <-q.stopCh:
			// Stop only closes stopCh after the final hand-off, so draining
			// what is buffered now empties the queue.
			for {
				select {
				case batch := <-q.batches:
					q.process(batch)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) idleFlush() {
	q.mu.Lock()
	idle := len(q.pending) > 0 && time.Since(q.lastEnqueue) >= q.cfg.FlushInterval
	q.mu.Unlock()

	if idle {
		if err := q.FlushSends(); err != nil {
			q.logger.Warn("idle flush deferred", "error", err)
		}
	}
}

func (q *Queue) process(batch []*message.Call) {
	for _, call := range batch {
		q.execute(call)
	}

	if len(batch) >= q.cfg.BatchSize && q.cfg.OnLimit != nil {
		q.runHook("on_limit", q.cfg.OnLimit)
	}
	// Calls still being batched by producers are invisible to the consumer,
	// so only handed-off batches count against "empty".
	if q.cfg.OnEmpty != nil && len(q.batches) == 0 {
		q.runHook("on_empty", q.cfg.OnEmpty)
	}
}

// execute runs one call. It never panics.
func (q *Queue) execute(call *message.Call) {
	callLogger := q.logger.With("call_id", call.ID, "method", call.Method)

	result, err := q.invoke(call)

	if call.ExpectsReply {
		if err != nil {
			err = fmt.Errorf("%s.%s: %w", q.def.Name, call.Method, errors.Join(message.ErrServiceError, err))
			callLogger.Debug("call failed", "error", err)
		}
		if q.cfg.Responses == nil {
			callLogger.Warn("no receive path configured; dropping response")
			return
		}
		q.cfg.Responses.Receive(message.Reply(call, result, err))
		return
	}

	if err != nil {
		callLogger.Warn("fire-and-forget call failed", "channel", call.Channel, "error", err)
	}
}

func (q *Queue) invoke(call *message.Call) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("service method panicked",
				"call_id", call.ID,
				"method", call.Method,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	fn, err := q.resolve(call)
	if err != nil {
		return nil, err
	}
	return fn(context.Background(), call.Args)
}

func (q *Queue) resolve(call *message.Call) (service.Func, error) {
	if call.Channel != "" {
		fn, ok := q.def.Listener(call.Channel)
		if !ok {
			return nil, fmt.Errorf("service %s does not listen on channel %q", q.def.Name, call.Channel)
		}
		return fn, nil
	}
	m, ok := q.def.Method(call.Method)
	if !ok {
		return nil, fmt.Errorf("service %s has no method %q", q.def.Name, call.Method)
	}
	return m.Invoke, nil
}

func (q *Queue) runHook(name string, hook func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("queue callback panicked", "callback", name, "panic", fmt.Sprint(r))
		}
	}()
	hook()
}
