// Package supervisor tracks outstanding requests and expires the ones whose
// responses never arrive.
//
// Every request that expects a reply is registered under the key
// "<call id>|<return address>". A Response completes it by the same key. A
// throttled sweep removes entries older than the timeout and delivers a
// timeout Response for each of them through OnExpire, outside any lock.
package supervisor

import (
	"fmt"
	"hash/maphash"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/switchyard/internal/log"
	"github.com/mattjoyce/switchyard/internal/message"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultMaxOutstanding = 20000
)

// Pending is one outstanding request together with its origin handle, for
// example the transport request that is waiting for the answer.
type Pending[T any] struct {
	Key        string
	Call       *message.Call
	InsertedAt time.Time
	Origin     T
}

// Config controls the outstanding table.
type Config[T any] struct {
	Timeout time.Duration
	// MaxOutstanding is the admission ceiling. Zero rejects every request.
	MaxOutstanding int
	// Unbounded disables the ceiling.
	Unbounded bool

	// OnExpire receives every request removed by a sweep along with the
	// timeout Response for it.
	OnExpire func(Pending[T], *message.Response)

	Now    func() time.Time
	Logger *slog.Logger
}

// DefaultConfig returns the default timeout and ceiling.
func DefaultConfig[T any]() Config[T] {
	return Config[T]{Timeout: defaultTimeout, MaxOutstanding: defaultMaxOutstanding}
}

// Supervisor is safe for concurrent use by request producers, the response
// path and the sweep. The table is split into shards, each with its own lock,
// so a sweep only ever holds one shard while new requests register in the
// others.
type Supervisor[T any] struct {
	cfg Config[T]

	seed   maphash.Seed
	shards [shardCount]shard[T]
	count  atomic.Int64

	lastSweep atomic.Int64 // unix nanos
	sweeps    errgroup.Group
	logger    *slog.Logger
}

const shardCount = 32

type shard[T any] struct {
	mu      sync.Mutex
	entries map[string]Pending[T]
}

// New creates a Supervisor.
func New[T any](cfg Config[T]) *Supervisor[T] {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxOutstanding < 0 {
		cfg.MaxOutstanding = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithComponent("supervisor")
	}

	s := &Supervisor[T]{
		cfg:    cfg,
		seed:   maphash.MakeSeed(),
		logger: logger,
	}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]Pending[T])
	}
	s.lastSweep.Store(cfg.Now().UnixNano())
	s.sweeps.SetLimit(1)
	return s
}

func (s *Supervisor[T]) shardFor(key string) *shard[T] {
	return &s.shards[maphash.String(s.seed, key)%shardCount]
}

// Timeout returns the configured request timeout.
func (s *Supervisor[T]) Timeout() time.Duration { return s.cfg.Timeout }

// Register admits call into the outstanding table. A full table returns
// message.ErrTooManyOutstanding and nudges the sweep; a key that is already
// outstanding returns message.ErrDuplicateRequest.
func (s *Supervisor[T]) Register(call *message.Call, origin T) error {
	now := s.cfg.Now()
	key := call.Key()

	// Reserve a slot first so concurrent registrations cannot overshoot.
	n := s.count.Add(1)
	if !s.cfg.Unbounded && n > int64(s.cfg.MaxOutstanding) {
		s.count.Add(-1)
		s.MaybeSweep(now)
		return fmt.Errorf("%d outstanding: %w", n-1, message.ErrTooManyOutstanding)
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	if _, dup := sh.entries[key]; dup {
		sh.mu.Unlock()
		s.count.Add(-1)
		return fmt.Errorf("request %s: %w", key, message.ErrDuplicateRequest)
	}
	sh.entries[key] = Pending[T]{Key: key, Call: call, InsertedAt: now, Origin: origin}
	sh.mu.Unlock()
	return nil
}

// Complete removes the entry answered by resp. The boolean is false when
// the request already timed out or was never registered.
func (s *Supervisor[T]) Complete(resp *message.Response) (Pending[T], bool) {
	return s.take(resp.Key())
}

// Cancel removes key without delivering anything, for requests that were
// registered but never reached a queue.
func (s *Supervisor[T]) Cancel(key string) bool {
	_, ok := s.take(key)
	return ok
}

func (s *Supervisor[T]) take(key string) (Pending[T], bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	p, ok := sh.entries[key]
	if ok {
		delete(sh.entries, key)
	}
	sh.mu.Unlock()
	if ok {
		s.count.Add(-1)
	}
	return p, ok
}

// Outstanding reports the number of requests awaiting a response.
func (s *Supervisor[T]) Outstanding() int {
	return int(s.count.Load())
}

// Sweep expires every entry older than the timeout as of now and returns how
// many were expired. Entries completed while the sweep runs are left alone.
func (s *Supervisor[T]) Sweep(now time.Time) int {
	s.lastSweep.Store(now.UnixNano())
	expired := s.collect(func(p Pending[T]) bool {
		return now.Sub(p.InsertedAt) > s.cfg.Timeout
	})

	for _, p := range expired {
		s.expire(p)
	}
	if len(expired) > 0 {
		s.logger.Info("expired outstanding requests", "count", len(expired))
	}
	return len(expired)
}

// collect removes and returns every entry matching stale, one shard at a
// time.
func (s *Supervisor[T]) collect(stale func(Pending[T]) bool) []Pending[T] {
	var out []Pending[T]
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		removed := 0
		for key, p := range sh.entries {
			if stale(p) {
				delete(sh.entries, key)
				out = append(out, p)
				removed++
			}
		}
		sh.mu.Unlock()
		s.count.Add(int64(-removed))
	}
	return out
}

// MaybeSweep schedules a sweep in the background when more than one timeout
// has passed since the last one. At most one sweep runs at a time.
func (s *Supervisor[T]) MaybeSweep(now time.Time) bool {
	last := time.Unix(0, s.lastSweep.Load())
	if now.Sub(last) <= s.cfg.Timeout {
		return false
	}
	return s.sweeps.TryGo(func() error {
		s.Sweep(now)
		return nil
	})
}

// Wait blocks until a running background sweep finishes.
func (s *Supervisor[T]) Wait() {
	_ = s.sweeps.Wait()
}

// Drain expires every outstanding entry regardless of age.
func (s *Supervisor[T]) Drain() int {
	expired := s.collect(func(Pending[T]) bool { return true })
	for _, p := range expired {
		s.expire(p)
	}
	return len(expired)
}

func (s *Supervisor[T]) expire(p Pending[T]) {
	s.logger.Debug("request timed out",
		"call_id", p.Call.ID,
		"service", p.Call.Service,
		"method", p.Call.Method,
		"age", s.cfg.Now().Sub(p.InsertedAt).String(),
	)
	if s.cfg.OnExpire == nil {
		return
	}
	resp := message.Reply(p.Call, nil, fmt.Errorf("%s.%s: %w", p.Call.Service, p.Call.Method, message.ErrRequestTimeout))

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("expire callback panicked", "call_id", p.Call.ID, "panic", fmt.Sprint(r))
		}
	}()
	s.cfg.OnExpire(p, resp)
}
