package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Krimson/fetal-monitory/extractor/internal/features"
	"github.com/Krimson/fetal-monitory/extractor/internal/session"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// FeatureMessage - запись о признаках, публикуемая в Kafka
type FeatureMessage struct {
	SessionID   string          `json:"session_id"`
	Status      session.Status  `json:"status"`
	Prediction  float64         `json:"prediction"`
	Records     features.Record `json:"records"`
	HistorySize int             `json:"history_size"`
	ProcessedAt time.Time       `json:"processed_at"`
}

// KafkaSink публикует признаки в топик; ключ сообщения - session_id,
// поэтому записи одной сессии попадают в одну партицию по порядку.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
		topic: topic,
	}
}

func (ks *KafkaSink) Publish(ctx context.Context, res *session.Result) error {
	payload, err := json.Marshal(FeatureMessage{
		SessionID:   res.SessionID,
		Status:      res.Status,
		Prediction:  res.Prediction,
		Records:     res.Records,
		HistorySize: res.HistorySize,
		ProcessedAt: res.ProcessedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal feature message: %w", err)
	}

	err = ks.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(res.SessionID),
		Value: payload,
		Time:  res.ProcessedAt,
	})
	if err != nil {
		return fmt.Errorf("kafka topic %s: %w", ks.topic, err)
	}
	return nil
}

func (ks *KafkaSink) Close() error {
	return ks.writer.Close()
}
