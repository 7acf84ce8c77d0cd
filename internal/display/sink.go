// Package display carries the per-cycle diagnostic output: the latest sample
// and a one-line status. It stands in for the node's local screen.
package display

import (
	"log/slog"
	"time"

	"cloudpico-node/internal/mqtt"
	"cloudpico-node/internal/telemetry"
)

type Sink interface {
	Show(s telemetry.Sample, status string)
}

// LogSink writes each update as a structured log line.
type LogSink struct {
	Logger *slog.Logger
}

func (l LogSink) Show(s telemetry.Sample, status string) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("display: "+status, s.LogAttrs()...)
}

type StatusPublisher interface {
	PublishStatus(mqtt.Status) error
}

// MQTTSink publishes a retained status document per update. Publish errors
// are logged and otherwise ignored.
type MQTTSink struct {
	pub       StatusPublisher
	stationID string
	logger    *slog.Logger
}

func NewMQTTSink(pub StatusPublisher, stationID string, logger *slog.Logger) *MQTTSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTSink{pub: pub, stationID: stationID, logger: logger}
}

func (m *MQTTSink) Show(s telemetry.Sample, status string) {
	err := m.pub.PublishStatus(mqtt.Status{
		StationID: m.stationID,
		UpdatedAt: time.Now(),
		Status:    status,
		Sample:    mqtt.FromSample(m.stationID, s),
	})
	if err != nil {
		m.logger.Debug("display: status not published", "error", err)
	}
}

// Multi fans an update out to every sink in order.
type Multi []Sink

func (m Multi) Show(s telemetry.Sample, status string) {
	for _, sink := range m {
		sink.Show(s, status)
	}
}
