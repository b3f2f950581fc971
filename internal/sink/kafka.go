package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/TobiSchelling/NewsDesk/internal/config"
	"github.com/TobiSchelling/NewsDesk/internal/news"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes one message per candidate, keyed by candidate id so
// the raw and enriched writes of an item land on the same partition.
type KafkaSink struct {
	w     messageWriter
	topic string
}

// NewKafkaSink creates a producer for cfg.Topic.
func NewKafkaSink(cfg config.KafkaSink) *KafkaSink {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            3,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &KafkaSink{w: w, topic: cfg.Topic}
}

func (k *KafkaSink) Name() string { return "kafka:" + k.topic }

// Publish writes items as JSON documents.
func (k *KafkaSink) Publish(ctx context.Context, items []news.Candidate) error {
	msgs := make([]kafka.Message, 0, len(items))
	for _, c := range items {
		value, err := json.Marshal(DocumentFor(c))
		if err != nil {
			return fmt.Errorf("marshal %s: %w", c.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(c.ID),
			Value: value,
			Headers: []kafka.Header{
				{Key: "source_id", Value: []byte(c.SourceID)},
				{Key: "urgent", Value: []byte(strconv.FormatBool(c.Urgent))},
			},
		})
	}
	if err := k.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write messages: %w", err)
	}
	return nil
}

func (k *KafkaSink) Close() error { return k.w.Close() }
