package epd

import (
	"periph.io/x/conn/v3/gpio"
)

// Pin is a logical GPIO number. On a Raspberry Pi it is the BCM number, which
// GPIOPort resolves to the periph.io pin named "GPIO<n>".
type Pin int

// Default wiring of the Waveshare e-Paper HAT (BCM numbering).
const (
	DefaultClockPin      Pin = 11 // SCLK
	DefaultDataPin       Pin = 10 // MOSI / DIN
	DefaultChipSelectPin Pin = 8  // CE0
	DefaultResetPin      Pin = 17
	DefaultDCPin         Pin = 25
	DefaultBusyPin       Pin = 24
)

// Port is the pin-level capability the driver needs. Writes are assumed to
// always succeed; implementations that can fail must report it out of band.
//
// A Port is owned by a single Panel. Concurrent calls are unsafe.
type Port interface {
	SetLevel(p Pin, l gpio.Level)
	ReadLevel(p Pin) gpio.Level
}

// Pins binds every panel signal to a Port pin.
type Pins struct {
	Clock      Pin
	Data       Pin
	ChipSelect Pin
	Reset      Pin
	DC         Pin
	Busy       Pin
}

// DefaultPins returns the HAT wiring.
func DefaultPins() Pins {
	return Pins{
		Clock:      DefaultClockPin,
		Data:       DefaultDataPin,
		ChipSelect: DefaultChipSelectPin,
		Reset:      DefaultResetPin,
		DC:         DefaultDCPin,
		Busy:       DefaultBusyPin,
	}
}

// validate reports a duplicated assignment.
func (p Pins) validate() error {
	named := []struct {
		name string
		pin  Pin
	}{
		{"clock", p.Clock},
		{"data", p.Data},
		{"chip_select", p.ChipSelect},
		{"reset", p.Reset},
		{"dc", p.DC},
		{"busy", p.Busy},
	}
	seen := make(map[Pin]string, len(named))
	for _, n := range named {
		if n.pin < 0 {
			return &PinError{Name: n.name, Pin: n.pin}
		}
		if other, ok := seen[n.pin]; ok {
			return &PinError{Name: n.name, Pin: n.pin, Conflict: other}
		}
		seen[n.pin] = n.name
	}
	return nil
}
