package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Handler func(ctx context.Context, msg kafka.Message) error

// ErrMalformed marks a message that can never be handled. It is committed and skipped
// instead of retried.
var ErrMalformed = errors.New("malformed event")

// Inbox records consumed event ids; Record reports false for an id seen before.
// Forget drops an id again so a failed event is handled on redelivery.
type Inbox interface {
	Record(ctx context.Context, eventID string, eventType string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// Reader is the part of *kafka.Reader the consumer uses. Offsets are committed explicitly.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader     Reader
	logger     *slog.Logger
	inbox      Inbox
	handler    Handler
	minBackoff time.Duration
	maxBackoff time.Duration
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
}

func New(logger *slog.Logger, inbox Inbox, cfg Config, handler Handler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return NewWithReader(logger, inbox, reader, handler)
}

func NewWithReader(logger *slog.Logger, inbox Inbox, reader Reader, handler Handler) *Consumer {
	return &Consumer{
		reader:     reader,
		logger:     logger,
		inbox:      inbox,
		handler:    handler,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// WithBackoff sets the delay bounds between retries of a failing message.
func (c *Consumer) WithBackoff(min, max time.Duration) *Consumer {
	c.minBackoff, c.maxBackoff = min, max
	return c
}

// Run reads until ctx is cancelled. A message is committed only once it was handled or found
// malformed; other failures are retried with backoff, holding the partition until they pass.
func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch error", "err", err)
			if !sleep(ctx, c.minBackoff) {
				return
			}
			continue
		}
		if !c.handleWithRetry(ctx, msg) {
			return
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit error", "err", err, "offset", msg.Offset)
		}
	}
}

// handleWithRetry reports false when ctx ended before msg was settled.
func (c *Consumer) handleWithRetry(ctx context.Context, msg kafka.Message) bool {
	backoff := c.minBackoff
	for {
		err := c.Process(ctx, msg)
		if err == nil {
			return true
		}
		if errors.Is(err, ErrMalformed) {
			c.logger.Warn("malformed event skipped", "topic", msg.Topic, "offset", msg.Offset, "err", err)
			return true
		}
		if !sleep(ctx, backoff) {
			return false
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Process handles one message at most once per event id. A failed handler leaves the id
// unrecorded.
func (c *Consumer) Process(ctx context.Context, msg kafka.Message) error {
	ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
	ctx, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)

	ok, err := c.inbox.Record(ctx, meta.EventID, meta.EventType)
	if err != nil {
		c.logger.Error("inbox record failed", "err", err)
		span.RecordError(err)
		return err
	}
	if !ok {
		c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
		return nil
	}

	if err := c.handler(ctx, msg); err != nil {
		c.logger.Error("handler error", "err", err, "event_id", meta.EventID)
		span.RecordError(err)
		if errors.Is(err, ErrMalformed) {
			return err
		}
		// Release the id so the retry or a redelivery is not taken for a duplicate.
		if ferr := c.inbox.Forget(context.WithoutCancel(ctx), meta.EventID); ferr != nil {
			c.logger.Error("inbox release failed", "err", ferr, "event_id", meta.EventID)
		}
		return err
	}
	return nil
}
