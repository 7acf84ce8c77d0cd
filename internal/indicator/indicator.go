package indicator

import (
	"context"
	"fmt"
	"time"

	"k8s.io/utils/clock"
	"periph.io/x/conn/v3/gpio"
)

// Pattern is a burst of identical pulses.
type Pattern struct {
	Pulses int
	On     time.Duration
	Off    time.Duration
}

const pulse = 80 * time.Millisecond

var (
	Success     = Pattern{Pulses: 1, On: pulse, Off: pulse}
	MissingData = Pattern{Pulses: 2, On: pulse, Off: pulse}
	Failure     = Pattern{Pulses: 3, On: pulse, Off: pulse}
)

// Duration is how long Signal blocks for p.
func (p Pattern) Duration() time.Duration {
	return time.Duration(p.Pulses) * (p.On + p.Off)
}

// Indicator drives a single LED. Signal blocks for the whole pattern.
type Indicator struct {
	pin       gpio.PinOut
	activeLow bool
	clock     clock.Clock
}

func New(pin gpio.PinOut, activeLow bool, clk clock.Clock) *Indicator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Indicator{pin: pin, activeLow: activeLow, clock: clk}
}

func (i *Indicator) active() gpio.Level {
	return gpio.Level(!i.activeLow)
}

func (i *Indicator) inactive() gpio.Level {
	return gpio.Level(i.activeLow)
}

// Off forces the pin to its inactive level.
func (i *Indicator) Off() error {
	if err := i.pin.Out(i.inactive()); err != nil {
		return fmt.Errorf("indicator %s: %w", i.pin, err)
	}
	return nil
}

// Signal plays p. The pin is inactive when Signal returns, including on
// cancellation between pulses.
func (i *Indicator) Signal(ctx context.Context, p Pattern) error {
	defer func() { _ = i.Off() }()

	for n := 0; n < p.Pulses; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := i.pin.Out(i.active()); err != nil {
			return fmt.Errorf("indicator %s: %w", i.pin, err)
		}
		i.clock.Sleep(p.On)
		if err := i.pin.Out(i.inactive()); err != nil {
			return fmt.Errorf("indicator %s: %w", i.pin, err)
		}
		i.clock.Sleep(p.Off)
	}
	return nil
}
