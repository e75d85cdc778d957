package epd

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	appLog "epdslide/internal/log"
)

// GPIOPort drives the panel through periph.io pins. The host must have been
// initialized (host.Init) before NewGPIOPort is called.
type GPIOPort struct {
	pins map[Pin]gpio.PinIO
}

var _ Port = (*GPIOPort)(nil)

// NewGPIOPort resolves every pin of pins by its "GPIO<n>" name, sets the
// outputs to their idle level and the busy line to a floating input.
func NewGPIOPort(pins Pins) (*GPIOPort, error) {
	return newGPIOPort(pins, func(n Pin) gpio.PinIO {
		return gpioreg.ByName(fmt.Sprintf("GPIO%d", n))
	})
}

func newGPIOPort(pins Pins, lookup func(Pin) gpio.PinIO) (*GPIOPort, error) {
	if err := pins.validate(); err != nil {
		return nil, err
	}

	g := &GPIOPort{pins: make(map[Pin]gpio.PinIO, 6)}
	resolve := func(n Pin) (gpio.PinIO, error) {
		p := lookup(n)
		if p == nil {
			return nil, fmt.Errorf("epd: gpio GPIO%d not found", n)
		}
		g.pins[n] = p
		return p, nil
	}

	outputs := []struct {
		pin  Pin
		idle gpio.Level
	}{
		{pins.ChipSelect, gpio.High},
		{pins.Clock, gpio.Low},
		{pins.Data, gpio.Low},
		{pins.DC, gpio.Low},
		{pins.Reset, gpio.High},
	}
	for _, o := range outputs {
		p, err := resolve(o.pin)
		if err != nil {
			return nil, err
		}
		if err := p.Out(o.idle); err != nil {
			return nil, fmt.Errorf("epd: gpio %s Out failed: %w", p.Name(), err)
		}
	}

	busy, err := resolve(pins.Busy)
	if err != nil {
		return nil, err
	}
	if err := busy.In(gpio.Float, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("epd: gpio %s In failed: %w", busy.Name(), err)
	}
	return g, nil
}

func (g *GPIOPort) SetLevel(n Pin, l gpio.Level) {
	p, ok := g.pins[n]
	if !ok {
		appLog.Warn("write to unknown pin", "pin", n)
		return
	}
	if err := p.Out(l); err != nil {
		appLog.Error("gpio write failed", err, "pin", p.Name())
	}
}

func (g *GPIOPort) ReadLevel(n Pin) gpio.Level {
	p, ok := g.pins[n]
	if !ok {
		appLog.Warn("read from unknown pin", "pin", n)
		return gpio.Low
	}
	return p.Read()
}

