package epd

import (
	"periph.io/x/conn/v3/gpio"
	"tinygo.org/x/drivers"
)

// Levels of the DC (mode-select) line.
const (
	dcCommand = gpio.Low
	dcData    = gpio.High
)

// Framer tags each transmitted byte as command or data through the DC line
// and hands the bytes to a write-only SPI bus.
// Callers must not interleave raw bus calls with Framer calls.
type Framer struct {
	bus  drivers.SPI
	port Port
	dc   Pin
}

func NewFramer(bus drivers.SPI, port Port, dc Pin) *Framer {
	return &Framer{bus: bus, port: port, dc: dc}
}

func (f *Framer) SendCommand(code byte) error {
	f.port.SetLevel(f.dc, dcCommand)
	_, err := f.bus.Transfer(code)
	return err
}

func (f *Framer) SendData(value byte) error {
	f.port.SetLevel(f.dc, dcData)
	_, err := f.bus.Transfer(value)
	return err
}

// Send issues a command followed by its parameter bytes.
func (f *Framer) Send(code byte, data ...byte) error {
	if err := f.SendCommand(code); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	f.port.SetLevel(f.dc, dcData)
	return f.bus.Tx(data, nil)
}

// Write streams p as data bytes in one bus transaction.
func (f *Framer) Write(p []byte) (int, error) {
	f.port.SetLevel(f.dc, dcData)
	if err := f.bus.Tx(p, nil); err != nil {
		return 0, err
	}
	return len(p), nil
}
