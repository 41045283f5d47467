package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ramsey-B/heather/pkg/metrics"
	"github.com/Ramsey-B/heather/pkg/models"
	"github.com/Ramsey-B/heather/pkg/tracing"
)

type Config struct {
	Brokers []string
	Topic   string
}

// MessageWriter is the part of kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes import run events.
type Producer struct {
	writer MessageWriter
	topic  string
	logger ectologger.Logger
}

func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    10,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 10 * time.Second,
		// Allow Kafka to auto-create the topic in dev environments when it doesn't exist yet.
		AllowAutoTopicCreation: true,
	}
	return NewProducerWithWriter(writer, cfg.Topic, logger)
}

func NewProducerWithWriter(writer MessageWriter, topic string, logger ectologger.Logger) *Producer {
	return &Producer{
		writer: writer,
		topic:  topic,
		logger: logger,
	}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// PublishImportEvent writes evt keyed by "<feed>:<run id>" so that events of one feed keep
// their order within a partition.
func (p *Producer) PublishImportEvent(ctx context.Context, evt *models.ImportEvent) error {
	ctx, span := tracing.StartSpan(ctx, "Kafka.PublishImportEvent",
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.topic),
		attribute.String("messaging.operation", "publish"),
	)
	defer span.End()

	if evt == nil {
		return fmt.Errorf("import event is nil")
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to marshal import event: %w", err)
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(fmt.Sprintf("%s:%s", evt.Feed, evt.RunID)),
		Value:   data,
		Headers: headers(ctx, evt),
	})
	elapsed := time.Since(start).Seconds()

	if err != nil {
		metrics.RecordKafkaPublish(p.topic, "error", elapsed)
		tracing.RecordError(span, err)
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish import event to Kafka topic %s", p.topic)
		return err
	}

	metrics.RecordKafkaPublish(p.topic, "success", elapsed)
	p.logger.WithContext(ctx).Debugf("Published %s for %s run %s", evt.Type, evt.Feed, evt.RunID)
	return nil
}

func headers(ctx context.Context, evt *models.ImportEvent) []kafka.Header {
	h := []kafka.Header{
		{Key: "feed", Value: []byte(evt.Feed)},
		{Key: "run_id", Value: []byte(evt.RunID)},
		{Key: "type", Value: []byte(evt.Type)},
	}
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		h = append(h, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}
	if tracestate := tracing.GetTraceState(ctx); tracestate != "" {
		h = append(h, kafka.Header{Key: "tracestate", Value: []byte(tracestate)})
	}
	return h
}
