package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// KafkaPublisher writes envelopes through a shared kafka-go writer. The
// writer is created without a fixed topic so one publisher can serve every
// destination endpoint.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher builds a publisher against the given broker addresses.
func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireAll,
		},
	}
}

// Publish stamps the event-type header and the active trace context onto the
// message and writes it to the topic. The message key drives broker-side
// partitioning, so messages sharing a key stay ordered.
func (p *KafkaPublisher) Publish(ctx context.Context, topic string, msg Message) error {
	headers := make(map[string]string, len(msg.Headers)+4)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[HeaderEventType] = msg.Type
	if headers[HeaderMessageID] == "" {
		headers[HeaderMessageID] = uuid.NewString()
	}
	injectTrace(ctx, headers)

	kafkaHeaders := make([]kafka.Header, 0, len(headers))
	for k, v := range headers {
		kafkaHeaders = append(kafkaHeaders, kafka.Header{Key: k, Value: []byte(v)})
	}

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(msg.Key),
		Value:   msg.Payload,
		Headers: kafkaHeaders,
	})
	if err != nil {
		return fmt.Errorf("bus: publish %s to %s: %w", msg.Type, topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaConsumer reads one topic as part of a consumer group. Offsets are
// committed after the handler acknowledges, which is what gives the
// at-least-once guarantee the rest of the system is written against.
type KafkaConsumer struct {
	reader *kafka.Reader
}

// ConsumerConfig describes one subscribed endpoint.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string

	// Prefetch bounds how many messages kafka-go buffers ahead of the
	// handler. The projector sets this to a multiple of its partition
	// count so every lane stays fed.
	Prefetch int
}

func NewKafkaConsumer(cfg ConsumerConfig) *KafkaConsumer {
	queueCap := cfg.Prefetch
	if queueCap <= 0 {
		queueCap = 100
	}
	return &KafkaConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:       cfg.Brokers,
			Topic:         cfg.Topic,
			GroupID:       cfg.GroupID,
			QueueCapacity: queueCap,
			MinBytes:      1,
			MaxBytes:      10e6,
		}),
	}
}

// Read blocks until a message arrives or ctx is done. The offset is fetched
// without committing; the returned message commits it when the runner calls
// Commit after the handler succeeded.
func (c *KafkaConsumer) Read(ctx context.Context) (Message, error) {
	km, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return Message{}, err
	}

	headers := make(map[string]string, len(km.Headers))
	for _, h := range km.Headers {
		headers[h.Key] = string(h.Value)
	}

	return Message{
		Type:    headers[HeaderEventType],
		Key:     string(km.Key),
		Headers: headers,
		Payload: km.Value,
		commit: func(ctx context.Context) error {
			return c.reader.CommitMessages(ctx, km)
		},
	}, nil
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}

// injectTrace copies the active span context into message headers so the
// consumer side can continue the same trace.
func injectTrace(ctx context.Context, headers map[string]string) {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		headers[k] = v
	}
}

// ExtractTrace returns a context carrying the span context found in the
// message headers, if any.
func ExtractTrace(ctx context.Context, msg Message) context.Context {
	carrier := propagation.MapCarrier{}
	for k, v := range msg.Headers {
		carrier[k] = v
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
