package kafka

import (
	"context"
	"encoding/json"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/fathima-sithara/messaging-service/internal/store"
)

// Producer publishes message-stored events for downstream consumers
// (notifications, analytics). Events are keyed by the normalized user pair
// so one conversation always lands on one partition, in order.
type Producer struct {
	writer *kafkago.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		Async:        false,
	}
	return &Producer{writer: w}
}

func (p *Producer) PublishMessageStored(ctx context.Context, m *store.Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	a, bUser := store.PairKey(m.SenderID, m.ReceiverID)
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(a + ":" + bUser),
		Value: b,
		Time:  m.CreatedAt,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
