package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/switchyard/internal/dispatch"
	"github.com/mattjoyce/switchyard/internal/events"
	"github.com/mattjoyce/switchyard/internal/gateway/mocks"
	"github.com/mattjoyce/switchyard/internal/journal"
	"github.com/mattjoyce/switchyard/internal/message"
	"github.com/mattjoyce/switchyard/internal/service"
)

type captureWriter struct {
	text bool

	mu     sync.Mutex
	writes int
	status int
	mime   string
	body   string
	done   chan struct{}
}

func newWriter(text bool) *captureWriter {
	return &captureWriter{text: text, done: make(chan struct{})}
}

func (w *captureWriter) IsText() bool { return w.text }

func (w *captureWriter) WriteText(status int, mime, body string) {
	w.store(status, mime, body)
}

func (w *captureWriter) WriteBytes(status int, mime string, body []byte) {
	w.store(status, mime, string(body))
}

func (w *captureWriter) store(status int, mime, body string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	w.status, w.mime, w.body = status, mime, body
	if w.writes == 1 {
		close(w.done)
	}
}

func (w *captureWriter) wait(t *testing.T) (int, string) {
	t.Helper()
	select {
	case <-w.done:
	case <-time.After(5 * time.Second):
		t.Fatal("no response written")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status, w.body
}

func (w *captureWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}

type fakeQueue struct {
	name string
	err  error

	mu      sync.Mutex
	calls   []*message.Call
	flushes int
}

func (q *fakeQueue) Service() string { return q.name }

func (q *fakeQueue) Enqueue(call *message.Call) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.calls = append(q.calls, call)
	return nil
}

func (q *fakeQueue) FlushSends() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushes++
	return nil
}

func (q *fakeQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.calls)
}

func employee() *service.Definition {
	return &service.Definition{
		Name: "Employee",
		Methods: []service.Method{
			{Name: "hire", Verb: http.MethodPost, ExpectsReply: true, Invoke: func(_ context.Context, args []any) (any, error) {
				if len(args) != 2 {
					return nil, errors.New("hire takes a name and a salary")
				}
				return map[string]any{"name": args[0], "salary": args[1]}, nil
			}},
			{Name: "fire", URI: "/fire/{name}", Invoke: func(context.Context, []any) (any, error) { return nil, nil }},
			{Name: "count", ExpectsReply: true, Invoke: func(context.Context, []any) (any, error) { return 1, nil }},
		},
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func newGateway(t *testing.T, max int, rec Recorder) (*Gateway, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	g := New(Config{
		BaseURI:        "/services/",
		Timeout:        time.Second,
		MaxOutstanding: max,
		FlushInterval:  100 * time.Millisecond,
		Journal:        rec,
		Now:            clk.Now,
	})
	return g, clk
}

func anyRecorder(t *testing.T) *mocks.MockRecorder {
	ctrl := gomock.NewController(t)
	rec := mocks.NewMockRecorder(ctrl)
	rec.EXPECT().Record(gomock.Any()).AnyTimes()
	return rec
}

func TestHandleUnknownURI(t *testing.T) {
	ctrl := gomock.NewController(t)
	rec := mocks.NewMockRecorder(ctrl)
	rec.EXPECT().Record(gomock.Any()).Do(func(e journal.Entry) {
		assert.Equal(t, journal.OutcomeRejected, e.Outcome)
		assert.Equal(t, http.StatusNotFound, e.Status)
		assert.Contains(t, e.Error, message.ErrCodeNotFound)
	})

	g, _ := newGateway(t, 10, rec)
	q := &fakeQueue{name: "Employee"}
	require.NoError(t, g.Register(employee(), q))

	w := newWriter(true)
	g.Handle(&Request{Verb: http.MethodGet, URI: "/services/nope", Writer: w})

	status, body := w.wait(t)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, `"No service method for URI /services/nope"`, body)
	assert.Zero(t, g.Outstanding())
	assert.Empty(t, q.calls)
}

func TestHandleWrongVerbIsNotFound(t *testing.T) {
	g, _ := newGateway(t, 10, nil)
	require.NoError(t, g.Register(employee(), &fakeQueue{name: "Employee"}))

	w := newWriter(false)
	g.Handle(&Request{Verb: http.MethodGet, URI: "/services/employee/hire", Writer: w})
	status, _ := w.wait(t)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHandleMalformedBody(t *testing.T) {
	g, _ := newGateway(t, 10, anyRecorder(t))
	q := &fakeQueue{name: "Employee"}
	require.NoError(t, g.Register(employee(), q))

	w := newWriter(false)
	g.Handle(&Request{Verb: http.MethodPost, URI: "/services/employee/hire", Body: []byte(`["Rick",`), Writer: w})

	status, body := w.wait(t)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, message.ErrCodeBadRequest)
	assert.Empty(t, q.calls, "bad requests never reach a queue")
	assert.Zero(t, g.Outstanding())
}

func TestHandleZeroCeilingRejects(t *testing.T) {
	g, _ := newGateway(t, 0, anyRecorder(t))
	q := &fakeQueue{name: "Employee"}
	require.NoError(t, g.Register(employee(), q))

	w := newWriter(false)
	g.Handle(&Request{Verb: http.MethodPost, URI: "/services/employee/hire", Body: []byte(`["Rick", 10]`), Writer: w})

	status, body := w.wait(t)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, `"too many outstanding requests"`, body)
	assert.Empty(t, q.calls)
}

func TestHandleVoidMethodAcknowledgesImmediately(t *testing.T) {
	g, _ := newGateway(t, 10, anyRecorder(t))
	q := &fakeQueue{name: "Employee"}
	require.NoError(t, g.Register(employee(), q))

	w := newWriter(true)
	g.Handle(&Request{Verb: http.MethodGet, URI: "/services/employee/fire/", Writer: w})

	status, body := w.wait(t)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, `"success"`, body)
	assert.Zero(t, g.Outstanding(), "void methods never enter the outstanding table")

	require.Len(t, q.calls, 1)
	assert.False(t, q.calls[0].ExpectsReply)
}

func TestHandleRoundTripThroughDispatchQueue(t *testing.T) {
	hub := events.NewHub(32)
	g := New(Config{
		BaseURI:        "/services",
		Timeout:        5 * time.Second,
		MaxOutstanding: 10,
		Events:         hub,
		Journal:        anyRecorder(t),
	})
	q, err := dispatch.New(employee(), dispatch.Config{BatchSize: 1, Responses: g})
	require.NoError(t, err)
	q.Start()
	t.Cleanup(func() { _ = q.Stop(context.Background()) })
	require.NoError(t, g.Register(q.Definition(), q))

	ok := newWriter(false)
	g.Handle(&Request{ID: "req-1", Verb: http.MethodPost, URI: "/services/employee/hire", Body: []byte(`["Rick", 100]`), RemoteAddr: "10.0.0.1:5000", Writer: ok})
	status, body := ok.wait(t)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"name":"Rick","salary":100}`, body)

	failed := newWriter(false)
	g.Handle(&Request{ID: "req-2", Verb: http.MethodPost, URI: "/services/employee/hire", Body: []byte(`"Rick"`), Writer: failed})
	status, body = failed.wait(t)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, body, "hire takes a name and a salary")

	assert.Zero(t, g.Outstanding())

	var types []string
	for _, ev := range hub.SnapshotSince(0) {
		types = append(types, ev.Type)
	}
	assert.ElementsMatch(t, []string{events.CallAccepted, events.CallCompleted, events.CallAccepted, events.CallCompleted}, types)
}

func TestHandleTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	rec := mocks.NewMockRecorder(ctrl)
	rec.EXPECT().Record(gomock.Any()).Do(func(e journal.Entry) {
		assert.Equal(t, journal.OutcomeTimedOut, e.Outcome)
		assert.Equal(t, http.StatusRequestTimeout, e.Status)
		assert.Equal(t, 2*time.Second, e.Duration)
	})

	g, clk := newGateway(t, 10, rec)
	q := &fakeQueue{name: "Employee"}
	require.NoError(t, g.Register(employee(), q))

	w := newWriter(true)
	g.Handle(&Request{Verb: http.MethodGet, URI: "/services/employee/count", Writer: w})
	require.Len(t, q.calls, 1)
	assert.Equal(t, 1, g.Outstanding())

	assert.Zero(t, g.Sweep(clk.Advance(500*time.Millisecond)))
	assert.Equal(t, 1, g.Sweep(clk.Advance(1500*time.Millisecond)))

	status, body := w.wait(t)
	assert.Equal(t, http.StatusRequestTimeout, status)
	assert.Equal(t, `"timed out"`, body)

	// The real answer arrives too late and is dropped.
	g.Receive(message.Reply(q.calls[0], 1, nil))
	assert.Equal(t, 1, w.count())
}

func TestHandleEnqueueFailureReleasesSlot(t *testing.T) {
	g, _ := newGateway(t, 1, anyRecorder(t))
	q := &fakeQueue{name: "Employee", err: message.ErrQueueFull}
	require.NoError(t, g.Register(employee(), q))

	w := newWriter(false)
	g.Handle(&Request{Verb: http.MethodGet, URI: "/services/employee/count", Writer: w})

	status, _ := w.wait(t)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Zero(t, g.Outstanding())
}

func TestHandleDuplicateKey(t *testing.T) {
	g, _ := newGateway(t, 10, anyRecorder(t))
	require.NoError(t, g.Register(employee(), &fakeQueue{name: "Employee"}))

	first, second := newWriter(false), newWriter(false)
	g.Handle(&Request{ID: "same", Verb: http.MethodGet, URI: "/services/employee/count", RemoteAddr: "a", Writer: first})
	g.Handle(&Request{ID: "same", Verb: http.MethodGet, URI: "/services/employee/count", RemoteAddr: "a", Writer: second})

	status, _ := second.wait(t)
	assert.Equal(t, http.StatusConflict, status)
	assert.Zero(t, first.count())
	assert.Equal(t, 1, g.Outstanding())
}

func TestRegisterCaseInsensitiveDuplicate(t *testing.T) {
	g, _ := newGateway(t, 10, nil)
	def := &service.Definition{
		Name:   "payroll",
		SubURI: "/Payroll",
		Methods: []service.Method{
			{Name: "total", ExpectsReply: true, Invoke: func(context.Context, []any) (any, error) { return 0, nil }},
		},
	}
	q := &fakeQueue{name: "payroll"}
	require.NoError(t, g.Register(def, q))

	for _, uri := range []string{"/services/Payroll/total", "/services/payroll/total"} {
		_, ok := g.lookup(http.MethodGet, uri)
		assert.True(t, ok, uri)
	}
	_, ok := g.lookup(http.MethodGet, "/services/PAYROLL/total")
	assert.False(t, ok)

	assert.Equal(t, []Route{{Verb: "GET", URI: "/services/Payroll/total", Service: "payroll", Method: "total", ExpectsReply: true}}, g.Routes())
}

func TestRegisterConflict(t *testing.T) {
	g, _ := newGateway(t, 10, nil)
	require.NoError(t, g.Register(employee(), &fakeQueue{name: "Employee"}))

	clash := &service.Definition{
		Name:   "other",
		SubURI: "/employee",
		Methods: []service.Method{
			{Name: "count", Invoke: func(context.Context, []any) (any, error) { return nil, nil }},
		},
	}
	assert.Error(t, g.Register(clash, &fakeQueue{name: "other"}))
}

func TestOnIdleTickFlushesAfterInterval(t *testing.T) {
	g, clk := newGateway(t, 10, nil)
	q := &fakeQueue{name: "Employee"}
	require.NoError(t, g.Register(employee(), q))

	g.OnIdleTick(clk.Advance(50 * time.Millisecond))
	assert.Zero(t, q.flushes)

	g.OnIdleTick(clk.Advance(60 * time.Millisecond))
	assert.Equal(t, 1, q.flushes)

	g.OnIdleTick(clk.Advance(10 * time.Millisecond))
	assert.Equal(t, 1, q.flushes)

	assert.Equal(t, map[string]int{"Employee": 0}, g.Depths())
}

func TestOnIdleTickSweeps(t *testing.T) {
	g, clk := newGateway(t, 10, anyRecorder(t))
	require.NoError(t, g.Register(employee(), &fakeQueue{name: "Employee"}))

	w := newWriter(false)
	g.Handle(&Request{Verb: http.MethodGet, URI: "/services/employee/count", Writer: w})

	g.OnIdleTick(clk.Advance(3 * time.Second))
	status, _ := w.wait(t)
	assert.Equal(t, http.StatusRequestTimeout, status)
}

func TestDrainAnswersEverything(t *testing.T) {
	g, _ := newGateway(t, 10, anyRecorder(t))
	require.NoError(t, g.Register(employee(), &fakeQueue{name: "Employee"}))

	w := newWriter(false)
	g.Handle(&Request{Verb: http.MethodGet, URI: "/services/employee/count", Writer: w})
	assert.Equal(t, 1, g.Drain())

	status, _ := w.wait(t)
	assert.Equal(t, http.StatusRequestTimeout, status)
}
