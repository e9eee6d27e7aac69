package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"ms-tickets/internal/logger"
)

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	Reader MessageReader
	log    *logger.Logger
}

// NewConsumer creates a consumer-group reader for the given topic.
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{Reader: reader, log: log}
}

// RunOrderPaid consumes order.paid events until ctx is done. A message is
// committed after the handler succeeds or when it cannot be decoded; handler
// failures leave it uncommitted so the group redelivers it.
func (c *Consumer) RunOrderPaid(ctx context.Context, handle func(context.Context, OrderPaidEvent) error) error {
	c.log.Info("KAFKA", "Order-paid consumer started")
	for {
		msg, err := c.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		var event OrderPaidEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.log.Warn("KAFKA", fmt.Sprintf("Dropping undecodable message at offset %d: %v", msg.Offset, err))
		} else if err := handle(ctx, event); err != nil {
			c.log.Error("KAFKA", fmt.Sprintf("Handler failed for order %s: %v", event.OrderID, err))
			continue
		}

		if err := c.Reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("KAFKA", fmt.Sprintf("Commit failed at offset %d: %v", msg.Offset, err))
		}
	}
}

func (c *Consumer) Close() error {
	return c.Reader.Close()
}
