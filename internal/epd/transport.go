package epd

import (
	"periph.io/x/conn/v3/gpio"
	"tinygo.org/x/drivers"
)

// Transport shifts bytes out over three GPIO lines: clock, data and an
// active-low chip select. There is no MISO line.
//
// Transport is not safe for concurrent use.
type Transport struct {
	port Port
	clk  Pin
	din  Pin
	cs   Pin
}

var _ drivers.SPI = (*Transport)(nil)

func NewTransport(port Port, clock, data, chipSelect Pin) *Transport {
	return &Transport{port: port, clk: clock, din: data, cs: chipSelect}
}

// Idle drives the bus to its resting levels.
func (t *Transport) Idle() {
	t.port.SetLevel(t.cs, gpio.High)
	t.port.SetLevel(t.clk, gpio.Low)
	t.port.SetLevel(t.din, gpio.Low)
}

// TransmitByte clocks b out MSB first inside one chip-select bracket.
// The receiver samples on the rising clock edge.
func (t *Transport) TransmitByte(b byte) {
	t.port.SetLevel(t.cs, gpio.Low)
	for i := 0; i < 8; i++ {
		t.port.SetLevel(t.din, gpio.Level(b&0x80 != 0))
		b <<= 1
		t.port.SetLevel(t.clk, gpio.High)
		t.port.SetLevel(t.clk, gpio.Low)
	}
	t.port.SetLevel(t.din, gpio.Low)
	t.port.SetLevel(t.cs, gpio.High)
}

// Tx implements drivers.SPI. Each byte of w gets its own chip-select
// bracket. r must be nil.
func (t *Transport) Tx(w, r []byte) error {
	if r != nil {
		return ErrWriteOnly
	}
	for _, b := range w {
		t.TransmitByte(b)
	}
	return nil
}

// Transfer implements drivers.SPI. The returned byte is always 0.
func (t *Transport) Transfer(b byte) (byte, error) {
	t.TransmitByte(b)
	return 0, nil
}
