package mq

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
)

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        time.Second,
	})
}

func ParseMessageJSON[T any](msg kafka.Message) (T, error) {
	var payload T
	err := json.Unmarshal(msg.Value, &payload)
	return payload, err
}

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// EventPublisher writes update events keyed by alert id, so every event of
// one alert lands on the same partition in order.
type EventPublisher struct {
	writer MessageWriter
}

func NewEventPublisher(w MessageWriter) *EventPublisher {
	return &EventPublisher{writer: w}
}

func (p *EventPublisher) Publish(ctx context.Context, e contracts.UpdateEvent) error {
	return PublishJSON(ctx, p.writer, e.Key(), e)
}

func PublishJSON(ctx context.Context, writer MessageWriter, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: body,
		Time:  time.Now().UTC(),
	})
}

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// ConsumeEvents reads update events until ctx is cancelled. Undecodable
// messages and handler errors are logged and skipped.
func ConsumeEvents(ctx context.Context, r MessageReader, logger *zap.Logger, handle func(context.Context, contracts.UpdateEvent) error) error {
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			logger.Warn("kafka read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		event, err := ParseMessageJSON[contracts.UpdateEvent](msg)
		if err != nil {
			logger.Warn("decode update event failed",
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			continue
		}
		if err := handle(ctx, event); err != nil {
			logger.Warn("handle update event failed",
				zap.String("alert_id", event.AlertID),
				zap.String("type", string(event.Type)),
				zap.Error(err))
		}
	}
}
