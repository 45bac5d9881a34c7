package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"txrelay/internal/domain"
	"txrelay/internal/infrastructure/telemetry"
	"txrelay/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultTopicPrefix = "txrelay-transactions"

// Producer publishes transaction lifecycle events to a per-chain topic.
type Producer struct {
	writer  *kafka.Writer
	prefix  string
	chainID uint64
}

type ProducerConfig struct {
	Brokers     []string
	TopicPrefix string
	ChainID     uint64
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.ChainID == 0 {
		return nil, errors.New("chain id is required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}
	return &Producer{writer: writer, prefix: cfg.TopicPrefix, chainID: cfg.ChainID}, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// PublishTransaction writes the current state of tx keyed by its hash, so every
// event for one transaction lands on the same partition in order.
func (p *Producer) PublishTransaction(ctx context.Context, tx *domain.Transaction) error {
	ctx, span := otel.Tracer("txrelay/kafka").Start(ctx, "relayer.publish_transaction", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.Int64("chain.id", int64(p.chainID)),
		attribute.String("tx.hash", tx.Hash()),
		attribute.String("tx.status", string(tx.Status())),
	)

	msg := streaming.FromTransaction(p.chainID, tx)
	if spanCtx := span.SpanContext(); spanCtx.HasTraceID() {
		msg.TraceID = spanCtx.TraceID().String()
	}
	payload, err := streaming.Encode(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	headers := make([]kafka.Header, 0, 2)
	telemetry.InjectKafkaHeaders(ctx, &headers)
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   p.Topic(),
		Key:     []byte(tx.Hash()),
		Value:   payload,
		Headers: headers,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *Producer) Topic() string {
	return TopicName(p.prefix, p.chainID)
}

// TopicName is the per-chain topic events are published to.
func TopicName(prefix string, chainID uint64) string {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultTopicPrefix
	}
	return fmt.Sprintf("%s-%d", prefix, chainID)
}
