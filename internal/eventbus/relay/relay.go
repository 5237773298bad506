// Package relay forwards bus events to an external broker.
//
// Each adapter wraps a narrow client interface so it can be tested without
// a broker, plus a constructor that dials the real one and returns a
// cleanup func. Events are JSON envelopes published on the subject, routing
// key or topic "<prefix><channel>".
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/switchyard/internal/message"
)

// Error codes for relay failures.
const (
	ErrCodeRelayUnavailable = "switchyard.relay_unavailable"
	ErrCodeRelayPublish     = "switchyard.relay_publish_failed"
	ErrCodeRelayEncode      = "switchyard.relay_encode_failed"
)

var (
	ErrUnavailable   = message.Code(ErrCodeRelayUnavailable)
	ErrPublishFailed = message.Code(ErrCodeRelayPublish)
	ErrEncodeFailed  = message.Code(ErrCodeRelayEncode)
)

// Kinds accepted by Open.
const (
	KindNone  = "none"
	KindNATS  = "nats"
	KindAMQP  = "amqp"
	KindKafka = "kafka"
)

// Forwarder is implemented by every adapter in this package.
type Forwarder interface {
	Forward(ctx context.Context, bus, channel string, call *message.Call) error
}

// Envelope is the wire form of a relayed event.
type Envelope struct {
	ID        string    `json:"id"`
	Bus       string    `json:"bus"`
	Channel   string    `json:"channel"`
	Source    string    `json:"source"`
	Args      []any     `json:"args"`
	Timestamp time.Time `json:"timestamp"`
}

// Config selects and configures an adapter.
type Config struct {
	Kind          string
	URL           string
	Brokers       []string
	Exchange      string
	SubjectPrefix string
	ClientName    string
	ConnTimeout   time.Duration
}

// Open dials the broker named by cfg.Kind. For KindNone it returns a nil
// Forwarder and a no-op cleanup.
func Open(cfg Config) (Forwarder, func(), error) {
	var (
		fwd     Forwarder
		cleanup func()
		err     error
	)
	switch cfg.Kind {
	case "", KindNone:
		return nil, func() {}, nil
	case KindNATS:
		fwd, cleanup, err = asForwarder(DialNATS(cfg))
	case KindAMQP:
		fwd, cleanup, err = asForwarder(DialAMQP(cfg))
	case KindKafka:
		fwd, cleanup, err = asForwarder(DialKafka(cfg))
	default:
		return nil, nil, fmt.Errorf("relay kind %q: %w", cfg.Kind, ErrUnavailable)
	}
	if err != nil {
		return nil, nil, err
	}
	return fwd, cleanup, nil
}

func asForwarder[F Forwarder](f F, cleanup func(), err error) (Forwarder, func(), error) {
	if err != nil {
		return nil, nil, err
	}
	return f, cleanup, nil
}

func encode(bus, channel string, call *message.Call) ([]byte, error) {
	body, err := json.Marshal(Envelope{
		ID:        call.ID,
		Bus:       bus,
		Channel:   channel,
		Source:    call.Service,
		Args:      call.Args,
		Timestamp: call.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", channel, errors.Join(ErrEncodeFailed, err))
	}
	return body, nil
}

func headers(bus, channel string, call *message.Call) map[string]string {
	return map[string]string{
		"x-call-id": call.ID,
		"x-bus":     bus,
		"x-channel": channel,
	}
}

func ready(ctx context.Context, connected bool, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !connected {
		return fmt.Errorf("%s relay: %w", label, ErrUnavailable)
	}
	return nil
}

// publishErr passes context errors through untouched and codes the rest.
func publishErr(label, target string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s relay publish to %q: %w", label, target, errors.Join(ErrPublishFailed, err))
}
