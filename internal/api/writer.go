package api

import (
	"net/http"
	"sync"

	"github.com/mattjoyce/switchyard/internal/gateway"
)

// httpWriter captures the gateway write-back until the handler goroutine
// copies it onto the real http.ResponseWriter. Only the first write counts.
type httpWriter struct {
	once   sync.Once
	done   chan struct{}
	status int
	mime   string
	body   []byte
}

var _ gateway.ResponseWriter = (*httpWriter)(nil)

func newHTTPWriter() *httpWriter {
	return &httpWriter{done: make(chan struct{})}
}

// IsText is false: HTTP bodies are bytes.
func (h *httpWriter) IsText() bool { return false }

func (h *httpWriter) WriteText(status int, mimeType, body string) {
	h.WriteBytes(status, mimeType, []byte(body))
}

func (h *httpWriter) WriteBytes(status int, mimeType string, body []byte) {
	h.once.Do(func() {
		h.status, h.mime, h.body = status, mimeType, body
		close(h.done)
	})
}

func (h *httpWriter) flushTo(w http.ResponseWriter) {
	if h.mime != "" {
		w.Header().Set("Content-Type", h.mime)
	}
	w.WriteHeader(h.status)
	_, _ = w.Write(h.body)
}
