package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/switchyard/internal/events"
)

const keepAliveInterval = 15 * time.Second

// eventFilter narrows the /events stream. The zero value passes everything.
//
//	type=call.timeout,bus.published   exact event types
//	type=call.*                       every type with the prefix "call."
//	service=Payroll                   call events for one service
//	call_id=...                       one call's lifecycle
type eventFilter struct {
	types    map[string]struct{}
	prefixes []string
	service  string
	callID   string
}

func parseEventFilter(q url.Values) eventFilter {
	f := eventFilter{
		service: strings.TrimSpace(q.Get("service")),
		callID:  strings.TrimSpace(q.Get("call_id")),
	}
	for _, raw := range q["type"] {
		for _, t := range strings.Split(raw, ",") {
			t = strings.TrimSpace(t)
			switch {
			case t == "":
			case strings.HasSuffix(t, "*"):
				f.prefixes = append(f.prefixes, strings.TrimSuffix(t, "*"))
			default:
				if f.types == nil {
					f.types = make(map[string]struct{})
				}
				f.types[t] = struct{}{}
			}
		}
	}
	return f
}

func (f eventFilter) matchType(t string) bool {
	if f.types == nil && f.prefixes == nil {
		return true
	}
	if _, ok := f.types[t]; ok {
		return true
	}
	for _, p := range f.prefixes {
		if strings.HasPrefix(t, p) {
			return true
		}
	}
	return false
}

func (f eventFilter) match(ev events.Event) bool {
	if !f.matchType(ev.Type) {
		return false
	}
	if f.service == "" && f.callID == "" {
		return true
	}
	var data struct {
		Service string `json:"service"`
		CallID  string `json:"call_id"`
	}
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return false
	}
	if f.service != "" && !strings.EqualFold(f.service, data.Service) {
		return false
	}
	return f.callID == "" || f.callID == data.CallID
}

// handleEvents streams the observability feed as server-sent events,
// replaying buffered events newer than Last-Event-ID first. Skipped events
// still advance the client's id, so a reconnect never replays them.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	filter := parseEventFilter(r.URL.Query())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribe before the snapshot so nothing published in between is lost.
	ch, cancel := s.events.Subscribe()
	defer cancel()

	lastID := parseLastEventID(r.Header.Get("Last-Event-ID"))
	for _, ev := range s.events.SnapshotSince(lastID) {
		if filter.match(ev) {
			if err := writeSSE(w, ev); err != nil {
				return
			}
		}
		lastID = ev.ID
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.ID <= lastID || !filter.match(ev) {
				continue
			}
			lastID = ev.ID
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeSSE(w http.ResponseWriter, ev events.Event) error {
	if ev.Type == "" {
		_, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.ID, ev.Data)
		return err
	}
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data)
	return err
}
