package node

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"
	"periph.io/x/conn/v3/gpio"

	"cloudpico-node/internal/config"
	"cloudpico-node/internal/indicator"
	"cloudpico-node/internal/link"
	"cloudpico-node/internal/sample"
)

func newRadio(cfg config.Node) (link.Radio, func(), error) {
	switch cfg.LinkDriver {
	case config.LinkDriverNetworkManager:
		conn, err := dbus.ConnectSystemBus()
		if err != nil {
			return nil, nil, fmt.Errorf("connect system bus: %w", err)
		}
		return link.NewNetworkManagerRadio(conn, cfg.WiFiInterface), func() { _ = conn.Close() }, nil
	case config.LinkDriverProbe:
		return link.NewProbeRadio(cfg.ProbeTarget, 0), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown link driver %q", cfg.LinkDriver)
	}
}

func newSource(ctx context.Context, cfg config.Node, logger *slog.Logger) (sample.Source, func(), error) {
	fixed := sample.Fixed{
		Temperature: cfg.FixedTemperature,
		Humidity:    cfg.FixedHumidity,
		Aux: sample.Aux{
			WindSpeed:  cfg.FixedWindSpeed,
			NoiseLevel: cfg.FixedNoiseLevel,
		},
	}

	switch cfg.SampleSource {
	case config.SourceFixed:
		return fixed, func() {}, nil
	case config.SourceSimulated:
		return sample.NewSimulated(fixed, uint64(time.Now().UnixNano())), func() {}, nil
	case config.SourceBME280:
		dev, err := sample.OpenBME280(cfg.BME280Address, fixed.Aux, logger)
		if err != nil {
			return nil, nil, err
		}
		return dev, func() { _ = dev.Close() }, nil
	case config.SourceBLE:
		b := sample.NewBeacon(fixed.Aux, cfg.BLEMaxAge, nil, logger)
		b.Start(ctx, sample.NewListener(cfg.BLEAdapter, logger))
		return b, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown sample source %q", cfg.SampleSource)
	}
}

func newPin(cfg config.Node, logger *slog.Logger) (gpio.PinOut, error) {
	if cfg.IndicatorPin == "" {
		return indicator.NewVirtualPin("virtual-led", logger), nil
	}
	return indicator.OpenPin(cfg.IndicatorPin)
}
