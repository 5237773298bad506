package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/mattjoyce/switchyard/internal/message"
)

// NATSClient is the slice of a NATS connection the relay needs.
type NATSClient interface {
	Publish(subject string, data []byte, headers map[string]string) error
}

// NATS publishes events on subjects "<prefix><channel>".
type NATS struct {
	Client NATSClient
	Prefix string
}

var _ Forwarder = (*NATS)(nil)

// NewNATS wraps an existing client.
func NewNATS(c NATSClient, prefix string) *NATS { return &NATS{Client: c, Prefix: prefix} }

func (n *NATS) Forward(ctx context.Context, bus, channel string, call *message.Call) error {
	if err := ready(ctx, n.Client != nil, "nats"); err != nil {
		return err
	}
	body, err := encode(bus, channel, call)
	if err != nil {
		return err
	}
	subject := n.Prefix + channel
	if err := n.Client.Publish(subject, body, headers(bus, channel, call)); err != nil {
		return publishErr("nats", subject, err)
	}
	return nil
}

type natsConn struct{ nc *nats.Conn }

func (c natsConn) Publish(subject string, data []byte, headers map[string]string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range headers {
		msg.Header.Set(k, v)
	}
	return c.nc.PublishMsg(msg)
}

// DialNATS connects to cfg.URL and returns the relay and a cleanup that
// drains the connection.
func DialNATS(cfg Config) (*NATS, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("nats url required: %w", ErrUnavailable)
	}

	opts := []nats.Option{nats.MaxReconnects(-1)}
	if cfg.ClientName != "" {
		opts = append(opts, nats.Name(cfg.ClientName))
	}
	if cfg.ConnTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnTimeout))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", errors.Join(ErrUnavailable, err))
	}

	cleanup := func() {
		if !nc.IsClosed() {
			_ = nc.Drain()
		}
	}
	return NewNATS(natsConn{nc: nc}, cfg.SubjectPrefix), cleanup, nil
}
