package epd

import (
	"context"
	"fmt"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func fakePins(pins Pins) map[Pin]*gpiotest.Pin {
	out := make(map[Pin]*gpiotest.Pin)
	for _, n := range []Pin{pins.Clock, pins.Data, pins.ChipSelect, pins.Reset, pins.DC, pins.Busy} {
		out[n] = &gpiotest.Pin{N: fmt.Sprintf("GPIO%d", n), Num: int(n)}
	}
	return out
}

func lookupIn(m map[Pin]*gpiotest.Pin) func(Pin) gpio.PinIO {
	return func(n Pin) gpio.PinIO {
		p, ok := m[n]
		if !ok {
			return nil
		}
		return p
	}
}

func TestGPIOPortIdleLevels(t *testing.T) {
	pins := DefaultPins()
	fake := fakePins(pins)
	fake[pins.Busy].L = gpio.High

	g, err := newGPIOPort(pins, lookupIn(fake))
	if err != nil {
		t.Fatalf("newGPIOPort: %v", err)
	}

	want := map[Pin]gpio.Level{
		pins.ChipSelect: gpio.High,
		pins.Reset:      gpio.High,
		pins.Clock:      gpio.Low,
		pins.Data:       gpio.Low,
		pins.DC:         gpio.Low,
	}
	for n, l := range want {
		if fake[n].L != l {
			t.Errorf("GPIO%d idle = %v, want %v", n, fake[n].L, l)
		}
	}
	if fake[pins.Busy].P != gpio.Float {
		t.Errorf("busy pull = %v, want Float", fake[pins.Busy].P)
	}

	g.SetLevel(pins.Clock, gpio.High)
	if fake[pins.Clock].L != gpio.High {
		t.Error("SetLevel did not reach the pin")
	}
	if g.ReadLevel(pins.Busy) != gpio.High {
		t.Error("ReadLevel did not read the busy pin")
	}
	if g.ReadLevel(Pin(99)) != gpio.Low {
		t.Error("unknown pin should read low")
	}
}

func TestGPIOPortMissingPin(t *testing.T) {
	pins := DefaultPins()
	fake := fakePins(pins)
	delete(fake, pins.Busy)

	if _, err := newGPIOPort(pins, lookupIn(fake)); err == nil {
		t.Fatal("expected an error for a missing busy pin")
	}
}

func TestPanelOverGPIOPort(t *testing.T) {
	pins := DefaultPins()
	fake := fakePins(pins)
	fake[pins.Busy].L = gpio.High

	g, err := newGPIOPort(pins, lookupIn(fake))
	if err != nil {
		t.Fatal(err)
	}
	noSleep := func(context.Context, time.Duration) error { return nil }
	p, err := New(g, Config{Pins: pins, Timing: DefaultTiming()}, WithSleeper(noSleep))
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := p.RefreshAndSleep(ctx); err != nil {
		t.Fatalf("RefreshAndSleep: %v", err)
	}
	if fake[pins.ChipSelect].L != gpio.High || fake[pins.Clock].L != gpio.Low {
		t.Error("bus not idle after the sequence")
	}
	// Deep sleep's check byte is the last data byte.
	if fake[pins.DC].L != gpio.High {
		t.Error("dc should be in data mode after the deep sleep parameter")
	}
}
