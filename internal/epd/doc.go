// Package epd drives a 7.5" 800x480 monochrome e-Paper panel (Waveshare
// 7.5" V2 controller) over bit-banged GPIO.
//
// # Layers
//
// Transport shifts single bytes out MSB first: chip select low, eight
// data/clock steps, chip select high. It satisfies drivers.SPI from
// tinygo.org/x/drivers, which is all Framer needs: Framer drives the DC
// line low for command bytes and high for data bytes, then hands them to
// the bus. Panel
// sequences reset, register programming, refresh and deep sleep, and
// synchronizes with the controller through the busy line (high = idle).
//
// # Hardware connection
//
//	Panel  → Raspberry Pi (BCM)
//	DIN    → GPIO10
//	CLK    → GPIO11
//	CS     → GPIO8
//	DC     → GPIO25
//	RST    → GPIO17
//	BUSY   → GPIO24
//
// Any other wiring is set through Pins.
//
// # Usage
//
//	if _, err := host.Init(); err != nil { ... }
//	port, err := epd.NewGPIOPort(epd.DefaultPins())
//	panel, err := epd.New(port, epd.DefaultConfig())
//
//	if err := panel.Initialize(ctx); err != nil { ... }
//	panel.Write(frame) // 48000 bytes, 1 bit per pixel
//	if err := panel.RefreshAndSleep(ctx); err != nil { ... }
//
// After RefreshAndSleep the controller is in deep sleep; the next
// Initialize wakes it with a hardware reset.
//
// # Concurrency
//
// Nothing in this package is safe for concurrent use. The bus is a single
// serial line; callers that share a Panel must serialize access.
package epd
