package sample

import (
	"context"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"cloudpico-node/internal/telemetry"
)

// Beacon reports the most recent reading broadcast by a battery sensor.
// Readings older than maxAge are reported as missing.
type Beacon struct {
	aux    Aux
	maxAge time.Duration
	clock  clock.PassiveClock
	logger *slog.Logger

	mu     sync.Mutex
	latest BeaconReading
	seenAt time.Time
	have   bool
}

func NewBeacon(aux Aux, maxAge time.Duration, clk clock.PassiveClock, logger *slog.Logger) *Beacon {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Beacon{aux: aux, maxAge: maxAge, clock: clk, logger: logger}
}

// Start runs the listener in the background. A listener that cannot start
// only logs; reads then report missing data.
func (b *Beacon) Start(ctx context.Context, l *Listener) {
	go func() {
		if err := l.Run(ctx, b.HandleMatch); err != nil {
			b.logger.Warn("ble: listener could not be initialized; node continues without beacon data",
				"error", err,
			)
		}
	}()
}

func (b *Beacon) HandleMatch(m Match) {
	r, err := ParseBeacon(m.Data)
	if err != nil {
		b.logger.Debug("ble: ignore non-sensor payload", "addr", m.Address, "error", err)
		return
	}

	b.mu.Lock()
	dup := b.have && b.latest.DeviceID == r.DeviceID && b.latest.ReadingID == r.ReadingID
	b.latest = r
	b.seenAt = b.clock.Now()
	b.have = true
	b.mu.Unlock()

	if dup {
		return
	}
	b.logger.Debug("ble: sensor reading",
		"addr", m.Address,
		"device_id", r.DeviceID,
		"reading_id", r.ReadingID,
		"rssi", m.RSSI,
		"T", r.Temperature, "P", r.Pressure, "H", r.Humidity,
		"data", hex.EncodeToString(m.Data),
	)
}

func (b *Beacon) Read(context.Context) telemetry.Sample {
	s := telemetry.Sample{
		WindSpeed:  telemetry.Value(b.aux.WindSpeed),
		NoiseLevel: telemetry.Value(b.aux.NoiseLevel),
		TakenAt:    b.clock.Now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.have || b.clock.Since(b.seenAt) > b.maxAge {
		return s
	}
	s.Temperature = telemetry.Value(b.latest.Temperature)
	s.Humidity = telemetry.Value(b.latest.Humidity)
	return s
}
