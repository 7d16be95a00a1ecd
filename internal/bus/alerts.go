// Package bus forwards raised alerts to an external message broker so
// downstream consumers (dashboards, pagers) see them without polling.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/models"
)

// AlertSink receives every alert raised during a flush.
type AlertSink interface {
	Send(ctx context.Context, alert models.Alert) error
	Close() error
}

// NoopSink drops alerts. Used when no broker is configured.
type NoopSink struct{}

func (NoopSink) Send(context.Context, models.Alert) error { return nil }
func (NoopSink) Close() error                             { return nil }

// KafkaSink writes alerts keyed by unit id, so one unit's alerts stay
// ordered within a partition.
type KafkaSink struct {
	log    *slog.Logger
	writer *kafka.Writer
}

func NewKafkaSink(log *slog.Logger, brokers []string, topic string) *KafkaSink {
	if log == nil {
		log = slog.Default()
	}
	return &KafkaSink{
		log: log.With(slog.String("component", "alert-sink")),
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

func (s *KafkaSink) Send(ctx context.Context, alert models.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert %s: %w", alert.ID, err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(alert.UnitID),
		Value: payload,
	})
}

func (s *KafkaSink) Close() error { return s.writer.Close() }
