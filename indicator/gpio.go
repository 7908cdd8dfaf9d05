package indicator

import (
	"fmt"

	"github.com/hjkoskel/govattu"
)

// pinWriter is the part of the GPIO driver the indicator switches LEDs with.
type pinWriter interface {
	PinSet(pin uint8)
	PinClear(pin uint8)
}

// GPIO implements Indicator using discrete GPIO LED pins: green for a
// dispatched command, yellow for a failed one, red for an unknown tag.
type GPIO struct {
	pins      pinWriter
	close     func() error
	greenPin  *uint8
	yellowPin *uint8
	redPin    *uint8
}

// NewGPIO creates a new GPIO-based indicator.
func NewGPIO(greenPin, yellowPin, redPin *uint8) (*GPIO, error) {
	hw, err := govattu.Open()
	if err != nil {
		return nil, fmt.Errorf("open gpio: %w", err)
	}

	for _, pin := range []*uint8{greenPin, yellowPin, redPin} {
		if pin != nil {
			hw.PinMode(*pin, govattu.ALToutput)
		}
	}

	return newGPIO(hw, hw.Close, greenPin, yellowPin, redPin), nil
}

func newGPIO(pins pinWriter, closeFn func() error, greenPin, yellowPin, redPin *uint8) *GPIO {
	g := &GPIO{
		pins:      pins,
		close:     closeFn,
		greenPin:  greenPin,
		yellowPin: yellowPin,
		redPin:    redPin,
	}
	g.allOff()
	return g
}

// Idle implements Indicator.Idle.
func (g *GPIO) Idle() {
	g.allOff()
}

// Granted implements Indicator.Granted.
func (g *GPIO) Granted() {
	g.only(g.greenPin)
}

// Denied implements Indicator.Denied.
func (g *GPIO) Denied() {
	g.only(g.redPin)
}

// Failed implements Indicator.Failed.
func (g *GPIO) Failed() {
	g.only(g.yellowPin)
}

// Shutdown implements Indicator.Shutdown.
func (g *GPIO) Shutdown() {
	g.allOff()
}

// Release implements Indicator.Release.
func (g *GPIO) Release() error {
	g.allOff()
	if g.close == nil {
		return nil
	}
	return g.close()
}

func (g *GPIO) only(pin *uint8) {
	g.allOff()
	if pin != nil {
		g.pins.PinSet(*pin)
	}
}

func (g *GPIO) allOff() {
	for _, pin := range []*uint8{g.greenPin, g.yellowPin, g.redPin} {
		if pin != nil {
			g.pins.PinClear(*pin)
		}
	}
}
