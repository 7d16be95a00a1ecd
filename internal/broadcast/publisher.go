// Package broadcast streams validated telemetry batches to interested
// consumers. The pipeline treats publishing as best effort: a slow or dead
// broker must never stall sample generation.
package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/models"
)

// Publisher pushes one flushed batch per unit.
type Publisher interface {
	PublishBatch(unitID string, batch []models.ValidatedSample)
	Close()
}

// NoopPublisher discards every batch. Used when broadcasting is disabled.
type NoopPublisher struct{}

func (NoopPublisher) PublishBatch(string, []models.ValidatedSample) {}
func (NoopPublisher) Close()                                       {}

// MQTTPublisher publishes batches as JSON to <prefix>/<unit_id> at QoS 0.
// Delivery errors are logged, not returned.
type MQTTPublisher struct {
	logger *slog.Logger
	client mqtt.Client
	prefix string
}

// NewMQTTPublisher connects to the broker. Connection failure is an error;
// later delivery failures are not.
func NewMQTTPublisher(logger *slog.Logger, brokerURL, clientID, topicPrefix string) (*MQTTPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", brokerURL, token.Error())
	}

	return &MQTTPublisher{logger: logger, client: client, prefix: topicPrefix}, nil
}

func (p *MQTTPublisher) PublishBatch(unitID string, batch []models.ValidatedSample) {
	if len(batch) == 0 {
		return
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		p.logger.Error("marshal telemetry batch", slog.String("unit_id", unitID), slog.Any("error", err))
		return
	}

	topic := p.prefix + "/" + unitID
	token := p.client.Publish(topic, 0, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			p.logger.Warn("publish telemetry batch",
				slog.String("topic", topic),
				slog.Any("error", token.Error()))
		}
	}()
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
