package indicator

import (
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// OpenPin resolves a board pin such as "GPIO17" through the periph registry.
func OpenPin(name string) (gpio.PinOut, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	return p, nil
}

// VirtualPin stands in for an LED on hosts without GPIO. Level changes are
// logged at debug.
type VirtualPin struct {
	gpio.PinIO
	name   string
	level  gpio.Level
	logger *slog.Logger
}

func NewVirtualPin(name string, logger *slog.Logger) *VirtualPin {
	if logger == nil {
		logger = slog.Default()
	}
	return &VirtualPin{PinIO: gpio.INVALID, name: name, logger: logger}
}

func (v *VirtualPin) String() string { return v.name }
func (v *VirtualPin) Name() string   { return v.name }

func (v *VirtualPin) Out(l gpio.Level) error {
	v.level = l
	v.logger.Debug("indicator: pin level", "pin", v.name, "level", l)
	return nil
}

func (v *VirtualPin) Read() gpio.Level { return v.level }
