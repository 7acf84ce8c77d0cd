package httpapi

import (
	"context"
	"log/slog"

	"cloudpico-node/internal/mqtt"
)

const defaultForwardBuffer = 64

// Mirror forwards accepted readings and alerts to the broker.
type Mirror interface {
	PublishTelemetry(mqtt.Telemetry) error
	PublishAlert(mqtt.Alert) error
}

type mirrorJob struct {
	telemetry mqtt.Telemetry
	alert     *mqtt.Alert
}

// Forwarder publishes to the broker off the request path so a stalled broker
// never delays a response. When the queue is full new jobs are dropped.
// A nil *Forwarder drops everything.
type Forwarder struct {
	mirror Mirror
	jobs   chan mirrorJob
	logger *slog.Logger
}

func NewForwarder(m Mirror, buffer int, logger *slog.Logger) *Forwarder {
	if buffer <= 0 {
		buffer = defaultForwardBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{mirror: m, jobs: make(chan mirrorJob, buffer), logger: logger}
}

// Run publishes queued jobs until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-f.jobs:
			f.publish(j)
		}
	}
}

func (f *Forwarder) enqueue(j mirrorJob) {
	if f == nil {
		return
	}
	select {
	case f.jobs <- j:
	default:
		f.logger.Warn("mqtt: forward queue full, dropping", "station_id", j.telemetry.StationID)
	}
}

func (f *Forwarder) publish(j mirrorJob) {
	if err := f.mirror.PublishTelemetry(j.telemetry); err != nil {
		f.logger.Debug("weather: telemetry not mirrored", "error", err)
	}
	if j.alert != nil {
		if err := f.mirror.PublishAlert(*j.alert); err != nil {
			f.logger.Warn("weather: alert not published", "error", err)
		}
	}
}
