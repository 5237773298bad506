package message

import (
	"fmt"
	"log/slog"
	"sync"
)

// Receiver accepts Responses delivered to its return address.
type Receiver interface {
	Receive(resp *Response)
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(resp *Response)

// Receive calls f(resp).
func (f ReceiverFunc) Receive(resp *Response) { f(resp) }

// Returns routes Responses to the Receiver bound to the head segment of
// their return address. It is the receive path shared by every dispatch
// queue; a Response for an unknown address is logged and dropped.
type Returns struct {
	mu        sync.RWMutex
	receivers map[string]Receiver
	logger    *slog.Logger
}

// NewReturns creates an empty router.
func NewReturns(logger *slog.Logger) *Returns {
	if logger == nil {
		logger = slog.Default()
	}
	return &Returns{
		receivers: make(map[string]Receiver),
		logger:    logger,
	}
}

// Bind associates a receiver name with r. Names are bound once at wiring time.
func (rt *Returns) Bind(name string, r Receiver) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, exists := rt.receivers[name]; exists {
		return fmt.Errorf("bind return address %q: already bound", name)
	}
	rt.receivers[name] = r
	return nil
}

// Receive implements Receiver.
func (rt *Returns) Receive(resp *Response) {
	name := receiverOf(resp.ReturnAddress)

	rt.mu.RLock()
	r, ok := rt.receivers[name]
	rt.mu.RUnlock()

	if !ok {
		rt.logger.Warn("dropping response for unknown return address",
			"return_address", resp.ReturnAddress,
			"call_id", resp.CorrelationID,
		)
		return
	}
	r.Receive(resp)
}
