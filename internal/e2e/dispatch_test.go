package e2e

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/switchyard/internal/api"
	"github.com/mattjoyce/switchyard/internal/dispatch"
	"github.com/mattjoyce/switchyard/internal/eventbus"
	"github.com/mattjoyce/switchyard/internal/events"
	"github.com/mattjoyce/switchyard/internal/gateway"
	"github.com/mattjoyce/switchyard/internal/journal"
	"github.com/mattjoyce/switchyard/internal/log"
	"github.com/mattjoyce/switchyard/internal/message"
	"github.com/mattjoyce/switchyard/internal/scheduler"
	"github.com/mattjoyce/switchyard/internal/service"
	"github.com/mattjoyce/switchyard/internal/storage"
)

// ledger is a subscriber service that remembers every event it was handed.
type ledger struct {
	name string

	mu   sync.Mutex
	seen []string
}

func (l *ledger) definition() *service.Definition {
	return &service.Definition{
		Name: l.name,
		Methods: []service.Method{
			{Name: "seen", ExpectsReply: true, Invoke: func(context.Context, []any) (any, error) {
				l.mu.Lock()
				defer l.mu.Unlock()
				return append([]string{}, l.seen...), nil
			}},
		},
		Listeners: map[string]service.Func{
			"orders": func(_ context.Context, args []any) (any, error) {
				l.mu.Lock()
				defer l.mu.Unlock()
				l.seen = append(l.seen, args[0].(string))
				return nil, nil
			},
		},
	}
}

func (l *ledger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.seen...)
}

type stack struct {
	server  *httptest.Server
	gateway *gateway.Gateway
	journal *journal.Journal
	writer  *journal.Writer
	hub     *events.Hub
	ledgers []*ledger
}

type options struct {
	timeout        time.Duration
	maxOutstanding int
}

// newStack wires the HTTP transport, gateway, queues, bus, scheduler and
// journal the way `system start` does.
func newStack(t *testing.T, opts options) *stack {
	t.Helper()
	log.Setup("ERROR")
	logger := log.WithComponent("e2e")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := &stack{hub: events.NewHub(256), journal: journal.New(db)}
	s.writer = journal.NewWriter(s.journal, 64)

	s.gateway = gateway.New(gateway.Config{
		BaseURI:        "/services",
		Timeout:        opts.timeout,
		MaxOutstanding: opts.maxOutstanding,
		FlushInterval:  10 * time.Millisecond,
		Events:         s.hub,
		Journal:        s.writer,
		Logger:         logger,
	})
	returns := message.NewReturns(logger)
	require.NoError(t, returns.Bind(gateway.ReceiverName, s.gateway))

	bus := eventbus.New("e2e", eventbus.WithEvents(s.hub), eventbus.WithLogger(logger))
	outbox := eventbus.NewOutbox(bus, "Orders", 0)

	orders := &service.Definition{
		Name: "Orders",
		Methods: []service.Method{
			{Name: "place", Verb: http.MethodPost, ExpectsReply: true, Invoke: func(_ context.Context, args []any) (any, error) {
				if len(args) == 0 {
					return nil, fmt.Errorf("place needs at least one item")
				}
				for _, a := range args {
					if err := outbox.Send("orders", a); err != nil {
						return nil, err
					}
				}
				return map[string]any{"placed": len(args)}, nil
			}},
			{Name: "ping", Invoke: func(context.Context, []any) (any, error) { return nil, nil }},
			{Name: "slow", ExpectsReply: true, Invoke: func(context.Context, []any) (any, error) {
				time.Sleep(opts.timeout * 4)
				return "too late", nil
			}},
		},
	}

	defs := []*service.Definition{orders}
	flushes := []func(){func() { _ = outbox.Flush() }}
	for _, name := range []string{"Billing", "Shipping"} {
		l := &ledger{name: name}
		s.ledgers = append(s.ledgers, l)
		defs = append(defs, l.definition())
		flushes = append(flushes, func() {})
	}

	var queues []*dispatch.Queue
	for i, def := range defs {
		q, err := dispatch.New(def, dispatch.Config{
			BatchSize:     8,
			FlushInterval: 5 * time.Millisecond,
			Responses:     returns,
			OnEmpty:       flushes[i],
			OnLimit:       flushes[i],
			Logger:        logger,
		})
		require.NoError(t, err)
		require.NoError(t, s.gateway.Register(q.Definition(), q))
		bus.JoinService(q, def.Channels()...)
		q.Start()
		queues = append(queues, q)
	}

	sched := scheduler.New(scheduler.Config{TickInterval: 10 * time.Millisecond, Retention: time.Hour}, s.gateway, s.journal, s.hub, log.Get())
	sched.Start(ctx)

	srv := api.New(api.Config{BaseURI: "/services", RequestTimeout: 10 * time.Second}, s.gateway, s.hub, logger)
	s.server = httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		s.server.Close()
		sched.Stop()
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		for _, q := range queues {
			_ = q.Stop(stopCtx)
		}
		s.gateway.Drain()
		_ = s.writer.Close(stopCtx)
	})
	return s
}

func (s *stack) do(t *testing.T, method, path, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, s.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestReplyExpectingPost(t *testing.T) {
	s := newStack(t, options{timeout: 2 * time.Second, maxOutstanding: 100})

	status, body := s.do(t, http.MethodPost, "/services/orders/place", `["apple", "pear"]`)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"placed":2}`, body)

	status, body = s.do(t, http.MethodPost, "/services/orders/place", `[]`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, body, "place needs at least one item")

	assert.Zero(t, s.gateway.Outstanding())
}

func TestEventsFanOutInPublishOrder(t *testing.T) {
	s := newStack(t, options{timeout: 2 * time.Second, maxOutstanding: 100})

	for i := 0; i < 5; i++ {
		status, _ := s.do(t, http.MethodPost, "/services/orders/place", fmt.Sprintf(`["e%d-a", "e%d-b"]`, i, i))
		require.Equal(t, http.StatusOK, status)
	}

	var want []string
	for i := 0; i < 5; i++ {
		want = append(want, fmt.Sprintf("e%d-a", i), fmt.Sprintf("e%d-b", i))
	}
	for _, l := range s.ledgers {
		assert.Eventually(t, func() bool { return len(l.snapshot()) == len(want) }, 3*time.Second, 10*time.Millisecond, l.name)
		assert.Equal(t, want, l.snapshot(), l.name)
	}

	status, body := s.do(t, http.MethodGet, "/services/billing/seen", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "e4-b")
}

func TestVoidGetIsAcknowledged(t *testing.T) {
	s := newStack(t, options{timeout: 2 * time.Second, maxOutstanding: 100})

	status, body := s.do(t, http.MethodGet, "/services/orders/ping", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, `"success"`, body)
	assert.Zero(t, s.gateway.Outstanding())
}

func TestUnknownURIIsNotFound(t *testing.T) {
	s := newStack(t, options{timeout: 2 * time.Second, maxOutstanding: 100})

	before := s.gateway.Outstanding()
	status, body := s.do(t, http.MethodGet, "/services/orders/nothing", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, `"No service method for URI /services/orders/nothing"`, body)
	assert.Equal(t, before, s.gateway.Outstanding())
}

func TestZeroCeilingRejectsEverything(t *testing.T) {
	s := newStack(t, options{timeout: 2 * time.Second, maxOutstanding: 0})

	start := time.Now()
	status, body := s.do(t, http.MethodPost, "/services/orders/place", `["apple"]`)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, `"too many outstanding requests"`, body)
	assert.Less(t, time.Since(start), time.Second)

	// Void methods never touch the table.
	status, _ = s.do(t, http.MethodGet, "/services/orders/ping", "")
	assert.Equal(t, http.StatusOK, status)
}

func TestSlowCallTimesOutExactlyOnce(t *testing.T) {
	s := newStack(t, options{timeout: 150 * time.Millisecond, maxOutstanding: 100})

	status, body := s.do(t, http.MethodGet, "/services/orders/slow", "")
	assert.Equal(t, http.StatusRequestTimeout, status)
	assert.Equal(t, `"timed out"`, body)
	assert.Zero(t, s.gateway.Outstanding())

	assert.Eventually(t, func() bool {
		entries, err := s.journal.List(context.Background(), journal.ListFilter{Outcome: journal.OutcomeTimedOut})
		return err == nil && len(entries) == 1 && entries[0].Method == "slow"
	}, 3*time.Second, 20*time.Millisecond)

	var timeouts int
	for _, ev := range s.hub.SnapshotSince(0) {
		if ev.Type == events.CallTimeout {
			timeouts++
		}
	}
	assert.Equal(t, 1, timeouts)
}
