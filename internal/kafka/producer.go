package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"ms-tickets/internal/logger"
)

// MessageWriter is the subset of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Topics struct {
	OrderPaid    string
	TicketIssued string
}

type Producer struct {
	Writer MessageWriter
	Topics Topics
	log    *logger.Logger
}

// NewProducer builds a writer without a fixed topic; every message names its own.
func NewProducer(brokers []string, topics Topics, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &Producer{Writer: writer, Topics: topics, log: log}
}

func (p *Producer) publish(ctx context.Context, topic, key string, v interface{}) error {
	msgBytes, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}

	err = p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: msgBytes,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.log.LogKafka("PUBLISH", topic, key)
	return nil
}

// PublishOrderPaid is keyed by order id so all events of one order share a partition.
func (p *Producer) PublishOrderPaid(ctx context.Context, event OrderPaidEvent) error {
	return p.publish(ctx, p.Topics.OrderPaid, event.OrderID, event)
}

func (p *Producer) PublishTicketIssued(ctx context.Context, event TicketIssuedEvent) error {
	return p.publish(ctx, p.Topics.TicketIssued, event.OrderID, event)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
