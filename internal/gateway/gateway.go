// Package gateway maps transport requests onto dispatch queues and writes
// the eventual responses back.
//
// Routing is an exact-match (verb, uri) table built at wiring time. A
// request for a method that expects a reply is registered with the timeout
// supervisor before it is enqueued, so it always ends with exactly one
// write-back: the method result, a service error, a timeout or an
// immediate rejection.
package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/switchyard/internal/codec"
	"github.com/mattjoyce/switchyard/internal/events"
	"github.com/mattjoyce/switchyard/internal/journal"
	"github.com/mattjoyce/switchyard/internal/log"
	"github.com/mattjoyce/switchyard/internal/message"
	"github.com/mattjoyce/switchyard/internal/service"
	"github.com/mattjoyce/switchyard/internal/supervisor"
)

// ReceiverName is the head of every return address the gateway issues.
const ReceiverName = "gateway"

// Bodies written for conditions the gateway resolves itself.
const (
	BodySuccess            = "success"
	BodyTooManyOutstanding = "too many outstanding requests"
	BodyTimedOut           = "timed out"
	bodyNotFoundPrefix     = "No service method for URI "
)

const defaultFlushInterval = 50 * time.Millisecond

// Config wires a Gateway.
type Config struct {
	BaseURI        string
	Timeout        time.Duration
	MaxOutstanding int
	FlushInterval  time.Duration

	Codec   Codec
	Events  events.Publisher
	Journal Recorder
	Logger  *slog.Logger
	Now     func() time.Time
}

type route struct {
	Route
	queue Enqueuer
}

// Gateway is safe for concurrent use once registration is finished.
type Gateway struct {
	cfg   Config
	codec Codec

	routes map[string]map[string]route
	queues []Enqueuer

	outstanding *supervisor.Supervisor[*Request]

	flushMu   sync.Mutex
	lastFlush time.Time

	logger *slog.Logger
}

var _ message.Receiver = (*Gateway)(nil)

// New creates a Gateway with an empty route table.
func New(cfg Config) *Gateway {
	if cfg.Codec == nil {
		cfg.Codec = codec.JSON{}
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithComponent("gateway")
	}
	cfg.BaseURI = strings.TrimSuffix(cfg.BaseURI, "/")

	g := &Gateway{
		cfg:       cfg,
		codec:     cfg.Codec,
		routes:    make(map[string]map[string]route),
		lastFlush: cfg.Now(),
		logger:    logger,
	}
	g.outstanding = supervisor.New(supervisor.Config[*Request]{
		Timeout:        cfg.Timeout,
		MaxOutstanding: cfg.MaxOutstanding,
		OnExpire:       g.expire,
		Now:            cfg.Now,
		Logger:         logger,
	})
	return g
}

// Register adds every method of def to the route table, targeting q.
// Registration must finish before the gateway handles requests.
func (g *Gateway) Register(def *service.Definition, q Enqueuer) error {
	if err := def.Validate(); err != nil {
		return err
	}
	for i := range def.Methods {
		m := &def.Methods[i]
		canonical := g.cfg.BaseURI + def.ServiceURI() + m.MethodURI()
		r := route{
			Route: Route{
				Verb:         m.Verb,
				URI:          canonical,
				Service:      def.Name,
				Method:       m.Name,
				ExpectsReply: m.ExpectsReply,
			},
			queue: q,
		}
		for _, uri := range uriForms(canonical) {
			if err := g.addRoute(uri, r); err != nil {
				return err
			}
		}
	}
	if !slices.Contains(g.queues, q) {
		g.queues = append(g.queues, q)
	}
	g.logger.Debug("service registered", "service", def.Name, "methods", len(def.Methods))
	return nil
}

func uriForms(canonical string) []string {
	lower := strings.ToLower(canonical)
	if lower == canonical {
		return []string{canonical}
	}
	return []string{canonical, lower}
}

func (g *Gateway) addRoute(uri string, r route) error {
	byURI, ok := g.routes[r.Verb]
	if !ok {
		byURI = make(map[string]route)
		g.routes[r.Verb] = byURI
	}
	if existing, dup := byURI[uri]; dup {
		if existing.Service == r.Service && existing.Method == r.Method {
			return nil
		}
		return fmt.Errorf("route %s %s already bound to %s.%s", r.Verb, uri, existing.Service, existing.Method)
	}
	byURI[uri] = r
	return nil
}

// Routes lists the canonical routes, sorted by URI then verb.
func (g *Gateway) Routes() []Route {
	var out []Route
	for _, byURI := range g.routes {
		for uri, r := range byURI {
			if uri == r.URI {
				out = append(out, r.Route)
			}
		}
	}
	slices.SortFunc(out, func(a, b Route) int {
		if c := strings.Compare(a.URI, b.URI); c != 0 {
			return c
		}
		return strings.Compare(a.Verb, b.Verb)
	})
	return out
}

// Depths reports the depth of every registered queue by service name.
func (g *Gateway) Depths() map[string]int {
	out := make(map[string]int, len(g.queues))
	for _, q := range g.queues {
		out[q.Service()] = q.Depth()
	}
	return out
}

// Outstanding reports requests awaiting a response.
func (g *Gateway) Outstanding() int { return g.outstanding.Outstanding() }

// Handle routes one request. It never blocks on service execution: replies
// for reply-expecting methods are written later by Receive or the sweep.
func (g *Gateway) Handle(req *Request) {
	started := g.cfg.Now()

	r, ok := g.lookup(req.Verb, req.URI)
	if !ok {
		g.reject(req, nil, http.StatusNotFound, bodyNotFoundPrefix+req.URI,
			fmt.Errorf("%s %s: %w", req.Verb, req.URI, message.ErrNotFound), started)
		return
	}

	args, err := g.decodeArgs(req.Body)
	if err != nil {
		err = fmt.Errorf("%s.%s: %w", r.Service, r.Method, errors.Join(message.ErrBadRequest, err))
		g.reject(req, &r.Route, http.StatusBadRequest, err.Error(), err, started)
		return
	}

	call := message.NewCall(r.Service, r.Method, args...)
	if req.ID != "" {
		call.ID = req.ID
	}
	call.ReturnAddress = message.Address(ReceiverName, req.RemoteAddr)
	call.ExpectsReply = r.ExpectsReply
	call.Timestamp = started

	if !r.ExpectsReply {
		g.handleVoid(req, r, call, started)
		return
	}

	if err := g.outstanding.Register(call, req); err != nil {
		status := message.StatusCode(err)
		body := err.Error()
		if errors.Is(err, message.ErrTooManyOutstanding) {
			body = BodyTooManyOutstanding
		}
		g.reject(req, &r.Route, status, body, err, started)
		return
	}

	if err := r.queue.Enqueue(call); err != nil {
		// The call never reached the queue, so nothing will answer it.
		g.outstanding.Cancel(call.Key())
		g.reject(req, &r.Route, message.StatusCode(err), err.Error(), err, started)
		return
	}

	g.publish(events.CallAccepted, call, req, 0, "")
}

func (g *Gateway) handleVoid(req *Request, r route, call *message.Call, started time.Time) {
	if err := r.queue.Enqueue(call); err != nil {
		g.reject(req, &r.Route, message.StatusCode(err), err.Error(), err, started)
		return
	}
	g.write(req, http.StatusOK, BodySuccess)
	g.record(call, req, journal.OutcomeAcknowledged, http.StatusOK, "", started)
	g.publish(events.CallAccepted, call, req, http.StatusOK, "")
}

// Receive writes back a Response produced by a dispatch queue. Responses
// for requests that already timed out are dropped.
func (g *Gateway) Receive(resp *message.Response) {
	p, ok := g.outstanding.Complete(resp)
	if !ok {
		g.logger.Debug("dropping response for unknown or expired request",
			"call_id", resp.CorrelationID,
			"return_address", resp.ReturnAddress,
		)
		return
	}

	status, outcome, errText := http.StatusOK, journal.OutcomeCompleted, ""
	if resp.HadError {
		status, outcome = http.StatusInternalServerError, journal.OutcomeFailed
		errText = fmt.Sprint(resp.Body)
	}
	g.write(p.Origin, status, resp.Body)
	g.record(p.Call, p.Origin, outcome, status, errText, p.InsertedAt)
	g.publish(events.CallCompleted, p.Call, p.Origin, status, errText)
}

func (g *Gateway) expire(p supervisor.Pending[*Request], resp *message.Response) {
	errText := fmt.Sprint(resp.Body)
	g.write(p.Origin, http.StatusRequestTimeout, BodyTimedOut)
	g.record(p.Call, p.Origin, journal.OutcomeTimedOut, http.StatusRequestTimeout, errText, p.InsertedAt)
	g.publish(events.CallTimeout, p.Call, p.Origin, http.StatusRequestTimeout, errText)
}

// OnIdleTick is driven by the host's idle loop. It flushes every queue
// once the flush interval has passed since the last flush and gives the
// timeout sweep a chance to run.
func (g *Gateway) OnIdleTick(now time.Time) {
	g.flushMu.Lock()
	due := now.Sub(g.lastFlush) > g.cfg.FlushInterval
	if due {
		g.lastFlush = now
	}
	g.flushMu.Unlock()

	if due {
		for _, q := range g.queues {
			if err := q.FlushSends(); err != nil {
				g.logger.Warn("flush deferred", "service", q.Service(), "error", err)
			}
		}
	}
	g.outstanding.MaybeSweep(now)
}

// Sweep expires stale requests now, bypassing the throttle.
func (g *Gateway) Sweep(now time.Time) int { return g.outstanding.Sweep(now) }

// Drain answers every outstanding request with a timeout. It is used at
// shutdown once the queues have stopped.
func (g *Gateway) Drain() int {
	g.outstanding.Wait()
	return g.outstanding.Drain()
}

func (g *Gateway) lookup(verb, uri string) (route, bool) {
	byURI, ok := g.routes[strings.ToUpper(verb)]
	if !ok {
		return route{}, false
	}
	r, ok := byURI[uri]
	return r, ok
}

func (g *Gateway) decodeArgs(body []byte) ([]any, error) {
	if len(body) == 0 {
		return nil, nil
	}
	v, err := g.codec.Decode(body)
	if err != nil {
		return nil, err
	}
	if args, ok := v.([]any); ok {
		return args, nil
	}
	return []any{v}, nil
}

func (g *Gateway) reject(req *Request, r *Route, status int, body string, err error, started time.Time) {
	g.write(req, status, body)

	svc, method := "", ""
	if r != nil {
		svc, method = r.Service, r.Method
	}
	callID := req.ID
	if callID == "" {
		callID = uuid.NewString()
	}
	g.logger.Debug("request rejected", "verb", req.Verb, "uri", req.URI, "status", status, "error", err)

	if g.cfg.Journal != nil {
		g.cfg.Journal.Record(journal.Entry{
			CallID:      callID,
			Service:     svc,
			Method:      method,
			Verb:        req.Verb,
			URI:         req.URI,
			Outcome:     journal.OutcomeRejected,
			Status:      status,
			Error:       err.Error(),
			StartedAt:   started,
			CompletedAt: g.cfg.Now(),
			Duration:    g.cfg.Now().Sub(started),
		})
	}
	if g.cfg.Events != nil {
		g.cfg.Events.Publish(events.CallRejected, map[string]any{
			"call_id": callID,
			"service": svc,
			"method":  method,
			"verb":    req.Verb,
			"uri":     req.URI,
			"status":  status,
			"error":   err.Error(),
		})
	}
}

// write encodes body and hands it to the transport on its preferred path.
func (g *Gateway) write(req *Request, status int, body any) {
	if req == nil || req.Writer == nil {
		return
	}
	b, err := g.codec.Encode(body)
	if err != nil {
		g.logger.Error("failed to encode response body", "uri", req.URI, "error", err)
		status = http.StatusInternalServerError
		b, _ = g.codec.Encode(fmt.Errorf("%w: %v", message.ErrServiceError, err))
	}
	if req.Writer.IsText() {
		req.Writer.WriteText(status, g.codec.MimeType(), string(b))
		return
	}
	req.Writer.WriteBytes(status, g.codec.MimeType(), b)
}

func (g *Gateway) record(call *message.Call, req *Request, outcome journal.Outcome, status int, errText string, started time.Time) {
	if g.cfg.Journal == nil {
		return
	}
	now := g.cfg.Now()
	g.cfg.Journal.Record(journal.Entry{
		CallID:      call.ID,
		Service:     call.Service,
		Method:      call.Method,
		Verb:        req.Verb,
		URI:         req.URI,
		Outcome:     outcome,
		Status:      status,
		Error:       errText,
		StartedAt:   started,
		CompletedAt: now,
		Duration:    now.Sub(started),
	})
}

func (g *Gateway) publish(eventType string, call *message.Call, req *Request, status int, errText string) {
	if g.cfg.Events == nil {
		return
	}
	data := map[string]any{
		"call_id": call.ID,
		"service": call.Service,
		"method":  call.Method,
		"verb":    req.Verb,
		"uri":     req.URI,
	}
	if status != 0 {
		data["status"] = status
	}
	if errText != "" {
		data["error"] = errText
	}
	g.cfg.Events.Publish(eventType, data)
}
