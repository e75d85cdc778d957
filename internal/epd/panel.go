package epd

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"

	appLog "epdslide/internal/log"
)

// Panel geometry. The resolution register is programmed from these.
const (
	Width  = 800
	Height = 480
)

// Controller commands used by this panel.
const (
	cmdPanelSetting       byte = 0x00
	cmdPowerSetting       byte = 0x01
	cmdPowerOff           byte = 0x02
	cmdPowerOn            byte = 0x04
	cmdDeepSleep          byte = 0x07
	cmdDisplayRefresh     byte = 0x12
	cmdDataStartTransmit2 byte = 0x13
	cmdDualSPI            byte = 0x15
	cmdVCOMDataInterval   byte = 0x50
	cmdTCONSetting        byte = 0x60
	cmdResolutionSetting  byte = 0x61
)

// deepSleepCheck must follow cmdDeepSleep or the controller ignores it.
const deepSleepCheck byte = 0xA5

// panelRegisters are programmed after power-on, in order.
var panelRegisters = []struct {
	cmd  byte
	data []byte
}{
	{cmdPanelSetting, []byte{0x1F}}, // KW mode, OTP LUT
	{cmdResolutionSetting, []byte{
		byte(Width >> 8), byte(Width & 0xFF),
		byte(Height >> 8), byte(Height & 0xFF),
	}},
	{cmdDualSPI, []byte{0x00}},
	{cmdVCOMDataInterval, []byte{0x10, 0x07}},
	{cmdTCONSetting, []byte{0x22}},
}

// busyReady is the busy-line level meaning "idle" on this panel.
const busyReady = gpio.High

// State is the sequencer state.
type State int

const (
	StateUninitialized State = iota
	StateResetting
	StateConfiguring
	StateReady
	StateSleeping
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateResetting:
		return "resetting"
	case StateConfiguring:
		return "configuring"
	case StateReady:
		return "ready"
	case StateSleeping:
		return "sleeping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Timing holds every delay of the sequencer.
type Timing struct {
	// Reset pulse: high, low, high again.
	ResetHigh    time.Duration
	ResetLow     time.Duration
	ResetRelease time.Duration

	// BusyPoll is the delay between busy-line reads, and the extra settle
	// after the line reports ready.
	BusyPoll time.Duration
	// BusyTimeout bounds a single busy wait. Zero waits forever.
	BusyTimeout time.Duration

	// PowerOnSettle is slept after the power-on command.
	PowerOnSettle time.Duration
	// RefreshSettle is slept after the refresh command (datasheet: >= 200µs).
	RefreshSettle time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		ResetHigh:     200 * time.Millisecond,
		ResetLow:      10 * time.Millisecond,
		ResetRelease:  200 * time.Millisecond,
		BusyPoll:      20 * time.Millisecond,
		BusyTimeout:   30 * time.Second,
		PowerOnSettle: 100 * time.Millisecond,
		RefreshSettle: 200 * time.Microsecond,
	}
}

// Config is everything a Panel needs besides its Port.
type Config struct {
	Pins   Pins
	Timing Timing
}

func DefaultConfig() Config {
	return Config{Pins: DefaultPins(), Timing: DefaultTiming()}
}

// Validate checks pin uniqueness and timing sanity.
func (c Config) Validate() error {
	if err := c.Pins.validate(); err != nil {
		return err
	}
	if c.Timing.BusyPoll <= 0 {
		return fmt.Errorf("%w: busy poll interval must be positive", ErrInvalidConfig)
	}
	if c.Timing.BusyTimeout < 0 {
		return fmt.Errorf("%w: busy timeout must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

type Option func(*Panel)

// WithSleeper replaces the delay primitive.
func WithSleeper(s Sleeper) Option {
	return func(p *Panel) { p.sleep = s }
}

// Panel sequences reset, register programming, refresh and sleep of a
// 7.5" 800x480 monochrome panel.
//
// A Panel is not safe for concurrent use; callers must serialize.
type Panel struct {
	port  Port
	cfg   Config
	tx    *Transport
	f     *Framer
	sleep Sleeper
	state State
}

// New validates cfg and drives the bus to idle. It does not touch the panel.
func New(port Port, cfg Config, opts ...Option) (*Panel, error) {
	if port == nil {
		return nil, fmt.Errorf("%w: nil port", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tx := NewTransport(port, cfg.Pins.Clock, cfg.Pins.Data, cfg.Pins.ChipSelect)
	p := &Panel{
		port:  port,
		cfg:   cfg,
		tx:    tx,
		f:     NewFramer(tx, port, cfg.Pins.DC),
		sleep: sleepContext,
	}
	for _, o := range opts {
		o(p)
	}
	tx.Idle()
	return p, nil
}

func (p *Panel) State() State { return p.state }

// Config returns the configuration the panel was built with.
func (p *Panel) Config() Config { return p.cfg }

// HardwareReset pulses the reset line high, low, high with the configured
// hold times.
func (p *Panel) HardwareReset(ctx context.Context) error {
	p.state = StateResetting
	rst := p.cfg.Pins.Reset
	t := p.cfg.Timing

	p.port.SetLevel(rst, gpio.High)
	if err := p.sleep(ctx, t.ResetHigh); err != nil {
		return p.fail(err)
	}
	p.port.SetLevel(rst, gpio.Low)
	if err := p.sleep(ctx, t.ResetLow); err != nil {
		return p.fail(err)
	}
	p.port.SetLevel(rst, gpio.High)
	if err := p.sleep(ctx, t.ResetRelease); err != nil {
		return p.fail(err)
	}
	return nil
}

// WaitUntilReady polls the busy line every BusyPoll until it reads ready,
// then sleeps one more BusyPoll. It gives up with ErrBusyTimeout after
// BusyTimeout worth of polls.
func (p *Panel) WaitUntilReady(ctx context.Context) error {
	t := p.cfg.Timing
	appLog.Info("panel busy", "pin", p.cfg.Pins.Busy)

	var waited time.Duration
	for {
		if err := p.sleep(ctx, t.BusyPoll); err != nil {
			return err
		}
		waited += t.BusyPoll
		if p.port.ReadLevel(p.cfg.Pins.Busy) == busyReady {
			break
		}
		if t.BusyTimeout > 0 && waited >= t.BusyTimeout {
			appLog.Warn("panel busy wait timed out", "waited", waited)
			return fmt.Errorf("%w after %s", ErrBusyTimeout, waited)
		}
	}
	if err := p.sleep(ctx, t.BusyPoll); err != nil {
		return err
	}
	appLog.Info("panel busy released", "waited", waited)
	return nil
}

// Initialize resets the panel, programs power, panel, resolution, VCOM and
// TCON registers, and leaves it armed for pixel data: the next bytes
// written with Write land in the new-image RAM.
//
// On error the panel is left Uninitialized.
func (p *Panel) Initialize(ctx context.Context) error {
	if err := p.HardwareReset(ctx); err != nil {
		return fmt.Errorf("epd: reset: %w", err)
	}
	p.state = StateConfiguring

	// VGH=20V, VGL=-20V, VDH=15V, VDL=-15V.
	if err := p.f.Send(cmdPowerSetting, 0x07, 0x07, 0x3F, 0x3F); err != nil {
		return fmt.Errorf("epd: power setting: %w", p.fail(err))
	}

	if err := p.f.SendCommand(cmdPowerOn); err != nil {
		return fmt.Errorf("epd: power on: %w", p.fail(err))
	}
	if err := p.sleep(ctx, p.cfg.Timing.PowerOnSettle); err != nil {
		return fmt.Errorf("epd: power on: %w", p.fail(err))
	}
	if err := p.WaitUntilReady(ctx); err != nil {
		return fmt.Errorf("epd: power on: %w", p.fail(err))
	}

	for _, r := range panelRegisters {
		if err := p.f.Send(r.cmd, r.data...); err != nil {
			return fmt.Errorf("epd: register %#02x: %w", r.cmd, p.fail(err))
		}
	}
	if err := p.f.SendCommand(cmdDataStartTransmit2); err != nil {
		return fmt.Errorf("epd: start transmission: %w", p.fail(err))
	}
	p.state = StateReady
	appLog.Debug("panel initialized")
	return nil
}

// Write streams pixel data after Initialize. Bytes are sent as-is.
func (p *Panel) Write(b []byte) (int, error) {
	if p.state != StateReady {
		return 0, ErrNotReady
	}
	n, err := p.f.Write(b)
	if err != nil {
		return n, p.fail(err)
	}
	return n, nil
}

// RefreshAndSleep shows the written frame, powers the panel off and puts it
// into deep sleep. Only HardwareReset (through Initialize) wakes it again.
func (p *Panel) RefreshAndSleep(ctx context.Context) error {
	if p.state != StateReady {
		return ErrNotReady
	}

	if err := p.f.SendCommand(cmdDisplayRefresh); err != nil {
		return fmt.Errorf("epd: refresh: %w", p.fail(err))
	}
	if err := p.sleep(ctx, p.cfg.Timing.RefreshSettle); err != nil {
		return fmt.Errorf("epd: refresh: %w", p.fail(err))
	}

	if err := p.f.SendCommand(cmdPowerOff); err != nil {
		return fmt.Errorf("epd: power off: %w", p.fail(err))
	}
	if err := p.WaitUntilReady(ctx); err != nil {
		return fmt.Errorf("epd: power off: %w", p.fail(err))
	}

	if err := p.f.Send(cmdDeepSleep, deepSleepCheck); err != nil {
		return fmt.Errorf("epd: deep sleep: %w", p.fail(err))
	}
	p.state = StateSleeping
	appLog.Debug("panel sleeping")
	return nil
}

func (p *Panel) fail(err error) error {
	p.state = StateUninitialized
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
