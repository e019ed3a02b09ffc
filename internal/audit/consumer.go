package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	telemetrydomain "serreconnect/backend/internal/telemetry/domain"
)

const recordTimeout = 10 * time.Second

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// Consumer reads session events from Kafka and records them through a Logger.
type Consumer struct {
	reader messageReader
	logger *Logger
	log    *zap.Logger
}

// NewConsumer returns a Consumer that reads from reader (usually a *kafka.Reader).
func NewConsumer(reader messageReader, logger *Logger, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{reader: reader, logger: logger, log: log}
}

// Run consumes until ctx is cancelled. Undecodable or unwritable messages are logged and skipped.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("audit: kafka read failed", zap.Error(err))
			continue
		}
		if err := c.Handle(ctx, msg.Value); err != nil {
			c.log.Warn("audit: message skipped",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
	}
}

// Handle decodes one JSON session event and records it.
func (c *Consumer) Handle(ctx context.Context, value []byte) error {
	var ev telemetrydomain.SessionEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return fmt.Errorf("decode session event: %w", err)
	}
	recordCtx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()
	if err := c.logger.Emit(recordCtx, &ev); err != nil {
		if errors.Is(err, ErrInvalidEvent) {
			return fmt.Errorf("%w: type %q", err, ev.Type)
		}
		return err
	}
	return nil
}
