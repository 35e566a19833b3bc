package notify

import (
	"context"
	"fmt"
	"time"

	"alertengine/config"
	"alertengine/internal/alert"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the slice of kafka.Writer used by KafkaNotifier.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaNotifier writes one message per trigger, keyed by alert id.
type KafkaNotifier struct {
	writer MessageWriter
}

func NewKafkaNotifier(w MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: w}
}

// NewKafkaWriter builds a synchronous writer for cfg.Topic.
func NewKafkaWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		Transport: &kafka.Transport{
			ClientID: "alertengine",
		},
	}
}

func (n *KafkaNotifier) Notify(ctx context.Context, triggers []alert.Trigger) error {
	msgs := make([]kafka.Message, 0, len(triggers))
	for _, t := range triggers {
		payload, err := encode(t)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(t.AlertID),
			Value: payload,
			Time:  t.FiredAt,
		})
	}
	if err := n.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write %d messages: %w", len(msgs), err)
	}
	return nil
}
