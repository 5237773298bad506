// Package message defines the values that travel through the dispatch core:
// Calls, the Responses they produce, and the return-address router that
// carries a Response back to whoever is waiting for it.
package message

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Call is one decoded method invocation in flight. A Call is immutable once
// created; producers that need a variant build a new one.
type Call struct {
	ID            string
	Service       string
	Method        string
	Args          []any
	ReturnAddress string
	Timestamp     time.Time

	// ExpectsReply marks calls whose result is delivered as a Response.
	ExpectsReply bool
	// Channel is set on copies fanned out by an event bus. The receiving
	// queue resolves the listener registered for this channel instead of Method.
	Channel string
}

// NewCall builds a Call with a fresh correlation id.
func NewCall(service, method string, args ...any) *Call {
	return &Call{
		ID:        uuid.NewString(),
		Service:   service,
		Method:    method,
		Args:      args,
		Timestamp: time.Now(),
	}
}

// Key is the uniqueness tuple used to correlate a Response with its Call.
func (c *Call) Key() string {
	return Key(c.ID, c.ReturnAddress)
}

// ForSubscriber returns the copy of an event delivered to one subscriber.
// Args are shared with the original and must be treated as read-only.
func (c *Call) ForSubscriber(service, channel string) *Call {
	return &Call{
		ID:        uuid.NewString(),
		Service:   service,
		Method:    c.Method,
		Args:      c.Args,
		Timestamp: c.Timestamp,
		Channel:   channel,
	}
}

// Response is the outcome of a Call that expects a reply. Exactly one
// Response is produced per such Call, either by the consumer or by the
// timeout sweep.
type Response struct {
	CorrelationID string
	ReturnAddress string
	Body          any
	HadError      bool
}

// Key returns the correlation key of the Call this Response answers.
func (r *Response) Key() string {
	return Key(r.CorrelationID, r.ReturnAddress)
}

// Reply builds the Response for call from a method result.
func Reply(call *Call, body any, err error) *Response {
	resp := &Response{
		CorrelationID: call.ID,
		ReturnAddress: call.ReturnAddress,
		Body:          body,
	}
	if err != nil {
		resp.Body = err
		resp.HadError = true
	}
	return resp
}

// Key joins a correlation id and return address.
func Key(id, returnAddress string) string {
	return id + "|" + returnAddress
}

// Address builds a return address "<receiver>/<detail>".
func Address(receiver, detail string) string {
	if detail == "" {
		return receiver
	}
	return receiver + "/" + detail
}

// receiverOf extracts the receiver name from a return address.
func receiverOf(address string) string {
	name, _, _ := strings.Cut(address, "/")
	return name
}
