package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"txrelay/internal/infrastructure/telemetry"
	"txrelay/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultRetryBackoff = 500 * time.Millisecond

type ConsumerConfig struct {
	Brokers      []string
	GroupID      string
	TopicPrefix  string
	ChainID      uint64
	RetryBackoff time.Duration
}

// MessageHandler processes one decoded lifecycle event. A returned error
// leaves the offset uncommitted and the same event is handed over again.
type MessageHandler func(ctx context.Context, msg streaming.Message) error

// messageReader is the part of *kafka.Reader the consumer drives.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads transaction lifecycle events for one chain.
type Consumer struct {
	reader  messageReader
	chainID uint64
	backoff time.Duration
}

func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.ChainID == 0 {
		return nil, errors.New("chain id is required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("kafka group id is required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    TopicName(cfg.TopicPrefix, cfg.ChainID),
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newConsumer(reader, cfg.ChainID, cfg.RetryBackoff), nil
}

func newConsumer(reader messageReader, chainID uint64, backoff time.Duration) *Consumer {
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	return &Consumer{reader: reader, chainID: chainID, backoff: backoff}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Run fetches events until ctx is done or the reader is closed. Undecodable
// payloads are logged and committed. A failing handler is retried on the same
// event, so offsets are committed in order and nothing is skipped.
func (c *Consumer) Run(ctx context.Context, handle MessageHandler) error {
	for {
		message, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			slog.Warn("kafka fetch failed", "error", err)
			if err := c.sleep(ctx); err != nil {
				return err
			}
			continue
		}

		decoded, err := streaming.Decode(message.Value)
		if err != nil {
			slog.Warn("discarding undecodable event", "topic", message.Topic, "offset", message.Offset, "error", err)
			c.commit(ctx, message)
			continue
		}
		if decoded.ChainID != c.chainID {
			slog.Warn("event for unexpected chain", "chain_id", decoded.ChainID, "topic", message.Topic)
		}

		for attempt := 1; ; attempt++ {
			err := c.handleOne(ctx, message, decoded, handle)
			if err == nil {
				break
			}
			slog.Warn("event handler failed", "hash", decoded.Hash, "offset", message.Offset, "attempt", attempt, "error", err)
			if err := c.sleep(ctx); err != nil {
				return err
			}
		}
		c.commit(ctx, message)
	}
}

func (c *Consumer) handleOne(ctx context.Context, message kafka.Message, decoded streaming.Message, handle MessageHandler) error {
	msgCtx := telemetry.ExtractKafkaHeaders(ctx, message.Headers)
	msgCtx, span := otel.Tracer("txrelay/kafka").Start(msgCtx, "relayer.consume_transaction", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("tx.hash", decoded.Hash),
		attribute.String("tx.status", decoded.Status),
		attribute.Int64("kafka.offset", message.Offset),
	)
	if err := handle(msgCtx, decoded); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (c *Consumer) commit(ctx context.Context, message kafka.Message) {
	if err := c.reader.CommitMessages(ctx, message); err != nil {
		slog.Warn("kafka commit failed", "offset", message.Offset, "error", err)
	}
}

func (c *Consumer) sleep(ctx context.Context) error {
	timer := time.NewTimer(c.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
