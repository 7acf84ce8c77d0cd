package node

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"cloudpico-node/internal/config"
	"cloudpico-node/internal/indicator"
	"cloudpico-node/internal/link"
	"cloudpico-node/internal/sample"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRadio(t *testing.T) {
	r, closeFn, err := newRadio(config.Node{LinkDriver: config.LinkDriverProbe, ProbeTarget: "127.0.0.1:3000"})
	if err != nil {
		t.Fatalf("newRadio(probe) error = %v", err)
	}
	defer closeFn()
	if _, ok := r.(*link.ProbeRadio); !ok {
		t.Fatalf("newRadio(probe) = %T", r)
	}

	if _, _, err := newRadio(config.Node{LinkDriver: "zigbee"}); err == nil {
		t.Fatal("newRadio(unknown) error = nil")
	}
}

func TestNewSource(t *testing.T) {
	cfg := config.Node{
		SampleSource:     config.SourceFixed,
		FixedTemperature: 26.5,
		FixedHumidity:    51.2,
		FixedNoiseLevel:  33,
	}
	src, closeFn, err := newSource(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("newSource(fixed) error = %v", err)
	}
	defer closeFn()

	s := src.Read(context.Background())
	if v, _ := s.NoiseLevel.Float(); v != 33 {
		t.Fatalf("NoiseLevel = %v, want 33", v)
	}

	cfg.SampleSource = config.SourceSimulated
	src, _, err = newSource(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("newSource(simulated) error = %v", err)
	}
	if _, ok := src.(*sample.Simulated); !ok {
		t.Fatalf("newSource(simulated) = %T", src)
	}

	cfg.SampleSource = "thermocouple"
	if _, _, err := newSource(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatal("newSource(unknown) error = nil")
	}
}

func TestNewPin_Virtual(t *testing.T) {
	pin, err := newPin(config.Node{}, discardLogger())
	if err != nil {
		t.Fatalf("newPin() error = %v", err)
	}
	if _, ok := pin.(*indicator.VirtualPin); !ok {
		t.Fatalf("newPin() = %T, want *indicator.VirtualPin", pin)
	}
}
