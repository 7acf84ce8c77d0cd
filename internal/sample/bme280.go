package sample

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"

	"cloudpico-node/internal/telemetry"
)

type senser interface {
	Sense(e *physic.Env) error
	Halt() error
}

// BME280 reads temperature and humidity over I2C. Wind and noise come from Aux.
type BME280 struct {
	dev    senser
	bus    io.Closer
	aux    Aux
	logger *slog.Logger
}

// OpenBME280 initialises periph and opens the sensor on the default I2C bus
// (usually /dev/i2c-1).
func OpenBME280(addr uint16, aux Aux, logger *slog.Logger) (*BME280, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph init: %w", err)
	}
	bus, err := i2creg.Open("")
	if err != nil {
		return nil, fmt.Errorf("open i2c bus: %w", err)
	}
	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("bme280 at 0x%02x: %w", addr, err)
	}
	return newBME280(dev, bus, aux, logger), nil
}

func newBME280(dev senser, bus io.Closer, aux Aux, logger *slog.Logger) *BME280 {
	if logger == nil {
		logger = slog.Default()
	}
	return &BME280{dev: dev, bus: bus, aux: aux, logger: logger}
}

func (b *BME280) Read(context.Context) telemetry.Sample {
	s := telemetry.Sample{
		WindSpeed:  telemetry.Value(b.aux.WindSpeed),
		NoiseLevel: telemetry.Value(b.aux.NoiseLevel),
		TakenAt:    time.Now(),
	}

	var env physic.Env
	if err := b.dev.Sense(&env); err != nil {
		b.logger.Warn("sample: bme280 sense failed", "error", err)
		return s
	}

	s.Temperature = telemetry.Value(env.Temperature.Celsius())
	s.Humidity = telemetry.Value(float64(env.Humidity) / float64(physic.PercentRH))
	return s
}

func (b *BME280) Close() error {
	haltErr := b.dev.Halt()
	var busErr error
	if b.bus != nil {
		busErr = b.bus.Close()
	}
	if haltErr != nil {
		return fmt.Errorf("halt bme280: %w", haltErr)
	}
	return busErr
}
