package gateway

import (
	"github.com/mattjoyce/switchyard/internal/journal"
	"github.com/mattjoyce/switchyard/internal/message"
)

//go:generate mockgen -destination=mocks/mock_recorder.go -package=mocks github.com/mattjoyce/switchyard/internal/gateway Recorder

// ResponseWriter is the write-back side of one transport request.
type ResponseWriter interface {
	// IsText reports whether the transport carries text frames rather than bytes.
	IsText() bool
	WriteText(status int, mimeType, body string)
	WriteBytes(status int, mimeType string, body []byte)
}

// Request is one decoded inbound request.
type Request struct {
	// ID becomes the call correlation id when set.
	ID         string
	Verb       string
	URI        string
	Body       []byte
	RemoteAddr string
	Writer     ResponseWriter
}

// Codec converts bodies at the boundary.
type Codec interface {
	Decode(data []byte) (any, error)
	Encode(v any) ([]byte, error)
	MimeType() string
}

// Enqueuer is the producer side of a dispatch queue.
type Enqueuer interface {
	Service() string
	Enqueue(call *message.Call) error
	FlushSends() error
	Depth() int
}

// Recorder receives the terminal outcome of every request.
type Recorder interface {
	Record(e journal.Entry)
}

// Route is one registered (verb, uri) entry.
type Route struct {
	Verb         string `json:"verb"`
	URI          string `json:"uri"`
	Service      string `json:"service"`
	Method       string `json:"method"`
	ExpectsReply bool   `json:"expects_reply"`
}
