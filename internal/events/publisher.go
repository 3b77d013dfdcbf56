package events

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher ships auth events to an external sink.
type Publisher interface {
	Publish(ctx context.Context, event *AuthEvent) error
}

// NopPublisher discards events; used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *AuthEvent) error { return nil }

// MessageProducer is implemented by client.KafkaProducer.
type MessageProducer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaPublisher writes events as JSON, keyed by phone hash so one number's
// events stay ordered within a partition.
type KafkaPublisher struct {
	producer MessageProducer
	topic    string
}

func NewKafkaPublisher(producer MessageProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event *AuthEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode auth event: %w", err)
	}
	key := event.PhoneHash
	if key == "" {
		key = event.UserName
	}
	return p.producer.ProduceMessage(ctx, p.topic, []byte(key), value, map[string]string{
		"event_type": event.Type,
	})
}
