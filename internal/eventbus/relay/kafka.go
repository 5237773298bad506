package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/mattjoyce/switchyard/internal/message"
)

// KafkaWriter is the slice of a Kafka producer the relay needs.
type KafkaWriter interface {
	Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Kafka produces events to topic "<prefix><channel>", keyed by call id.
type Kafka struct {
	Writer KafkaWriter
	Prefix string
}

var _ Forwarder = (*Kafka)(nil)

// NewKafka wraps an existing writer.
func NewKafka(w KafkaWriter, prefix string) *Kafka { return &Kafka{Writer: w, Prefix: prefix} }

func (k *Kafka) Forward(ctx context.Context, bus, channel string, call *message.Call) error {
	if err := ready(ctx, k.Writer != nil, "kafka"); err != nil {
		return err
	}
	body, err := encode(bus, channel, call)
	if err != nil {
		return err
	}
	topic := k.Prefix + channel
	if err := k.Writer.Write(ctx, topic, []byte(call.ID), body, headers(bus, channel, call)); err != nil {
		return publishErr("kafka", topic, err)
	}
	return nil
}

type kgoWriter struct{ cl *kgo.Client }

func (w kgoWriter) Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	rec.Headers = make([]kgo.RecordHeader, 0, len(headers))
	for k, v := range headers {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	return w.cl.ProduceSync(ctx, rec).FirstErr()
}

// DialKafka creates a franz-go client for cfg.Brokers and returns the relay
// and a cleanup that closes the client.
func DialKafka(cfg Config) (*Kafka, func(), error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil, fmt.Errorf("kafka brokers required: %w", ErrUnavailable)
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.AllowAutoTopicCreation(),
	}
	if cfg.ClientName != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientName))
	}
	if cfg.ConnTimeout > 0 {
		opts = append(opts, kgo.DialTimeout(cfg.ConnTimeout))
	}
	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka client: %w", errors.Join(ErrUnavailable, err))
	}
	return NewKafka(kgoWriter{cl: cl}, cfg.SubjectPrefix), cl.Close, nil
}
