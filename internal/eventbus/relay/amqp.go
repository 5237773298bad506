package relay

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mattjoyce/switchyard/internal/message"
)

const (
	defaultExchange = "switchyard.events"
	exchangeKind    = "topic"
)

// AMQPMessage is one publish on an exchange.
type AMQPMessage struct {
	Exchange   string
	RoutingKey string
	Headers    map[string]string
	Body       []byte
}

// AMQPPublisher is the slice of an AMQP channel the relay needs.
type AMQPPublisher interface {
	Publish(ctx context.Context, m AMQPMessage) error
}

// AMQP publishes events on a topic exchange with routing key
// "<prefix><channel>".
type AMQP struct {
	Publisher AMQPPublisher
	Exchange  string
	Prefix    string
}

var _ Forwarder = (*AMQP)(nil)

// NewAMQP wraps an existing publisher.
func NewAMQP(p AMQPPublisher, exchange, prefix string) *AMQP {
	if exchange == "" {
		exchange = defaultExchange
	}
	return &AMQP{Publisher: p, Exchange: exchange, Prefix: prefix}
}

func (a *AMQP) Forward(ctx context.Context, bus, channel string, call *message.Call) error {
	if err := ready(ctx, a.Publisher != nil, "amqp"); err != nil {
		return err
	}
	body, err := encode(bus, channel, call)
	if err != nil {
		return err
	}
	key := a.Prefix + channel
	err = a.Publisher.Publish(ctx, AMQPMessage{
		Exchange:   a.Exchange,
		RoutingKey: key,
		Headers:    headers(bus, channel, call),
		Body:       body,
	})
	if err != nil {
		return publishErr("amqp", key, err)
	}
	return nil
}

type amqpChannel struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func (c *amqpChannel) Publish(ctx context.Context, m AMQPMessage) error {
	h := make(amqp.Table, len(m.Headers))
	for k, v := range m.Headers {
		h[k] = v
	}
	return c.ch.PublishWithContext(ctx, m.Exchange, m.RoutingKey, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Headers:      h,
		Body:         m.Body,
	})
}

func (c *amqpChannel) close() {
	_ = c.ch.Close()
	_ = c.conn.Close()
}

// DialAMQP connects to cfg.URL, declares the exchange and returns the relay
// and a cleanup that closes the connection.
func DialAMQP(cfg Config) (*AMQP, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("amqp url required: %w", ErrUnavailable)
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = defaultExchange
	}

	amqpCfg := amqp.Config{Properties: amqp.Table{"product": "switchyard"}}
	if cfg.ConnTimeout > 0 {
		amqpCfg.Dial = amqp.DefaultDial(cfg.ConnTimeout)
	}
	conn, err := amqp.DialConfig(cfg.URL, amqpCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", errors.Join(ErrUnavailable, err))
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", errors.Join(ErrUnavailable, err))
	}
	if err := ch.ExchangeDeclare(exchange, exchangeKind, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp declare exchange %s: %w", exchange, errors.Join(ErrUnavailable, err))
	}

	pub := &amqpChannel{conn: conn, ch: ch}
	return NewAMQP(pub, exchange, cfg.SubjectPrefix), pub.close, nil
}
