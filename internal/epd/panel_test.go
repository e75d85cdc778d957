package epd_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"

	"epdslide/internal/epd"
	"epdslide/internal/epd/epdtest"
	appLog "epdslide/internal/log"
)

func newPanel(t *testing.T, cfg epd.Config) (*epd.Panel, *epdtest.Recorder) {
	t.Helper()
	rec := epdtest.New(cfg.Pins)
	p, err := epd.New(rec, cfg, epd.WithSleeper(rec.Sleep))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec.Reset()
	return p, rec
}

var initFrames = []epdtest.Frame{
	{Command: 0x01, Data: []byte{0x07, 0x07, 0x3F, 0x3F}},
	{Command: 0x04},
	{Command: 0x00, Data: []byte{0x1F}},
	{Command: 0x61, Data: []byte{0x03, 0x20, 0x01, 0xE0}},
	{Command: 0x15, Data: []byte{0x00}},
	{Command: 0x50, Data: []byte{0x10, 0x07}},
	{Command: 0x60, Data: []byte{0x22}},
	{Command: 0x13},
}

func assertFrames(t *testing.T, got, want []epdtest.Frame) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d frames %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i].Command != want[i].Command || !bytes.Equal(got[i].Data, want[i].Data) {
			t.Errorf("frame %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestInitializeSequence(t *testing.T) {
	p, rec := newPanel(t, epd.DefaultConfig())
	if p.State() != epd.StateUninitialized {
		t.Fatalf("initial state = %s", p.State())
	}

	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	assertFrames(t, rec.Frames(), initFrames)

	var commands, data int
	for _, b := range rec.Bytes() {
		if b.Data {
			data++
		} else {
			commands++
		}
	}
	if commands != 8 || data != 13 {
		t.Errorf("commands = %d, data bytes = %d; want 8, 13", commands, data)
	}
	if vs := rec.Violations(); len(vs) != 0 {
		t.Errorf("violations: %v", vs)
	}
	if p.State() != epd.StateReady {
		t.Errorf("state = %s, want ready", p.State())
	}
}

func TestInitializeWaitsAfterPowerOn(t *testing.T) {
	p, rec := newPanel(t, epd.DefaultConfig())
	rec.QueueBusy(gpio.Low, gpio.Low)
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Power setting (5 bytes) plus power on is 48 clocks. Nothing else may
	// be clocked until busy reads ready.
	clocks := 0
	var seq []string
	for _, ev := range rec.Events() {
		switch {
		case ev.Kind == epdtest.Write && ev.Pin == epd.DefaultClockPin && ev.Level == gpio.High:
			clocks++
		case ev.Kind == epdtest.Read && clocks == 48:
			seq = append(seq, "read:"+ev.Level.String())
		case ev.Kind == epdtest.Delay && clocks == 48:
			seq = append(seq, "delay:"+ev.Delay.String())
		}
	}
	want := []string{
		"delay:100ms",
		"delay:20ms", "read:Low",
		"delay:20ms", "read:Low",
		"delay:20ms", "read:High",
		"delay:20ms",
	}
	if len(seq) != len(want) {
		t.Fatalf("after power on: %v, want %v", seq, want)
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Errorf("step %d = %s, want %s", i, seq[i], want[i])
		}
	}
}

func TestHardwareResetPulse(t *testing.T) {
	p, rec := newPanel(t, epd.DefaultConfig())
	if err := p.HardwareReset(context.Background()); err != nil {
		t.Fatalf("HardwareReset: %v", err)
	}

	want := []epdtest.Event{
		{Kind: epdtest.Write, Pin: epd.DefaultResetPin, Level: gpio.High},
		{Kind: epdtest.Delay, Delay: 200 * time.Millisecond},
		{Kind: epdtest.Write, Pin: epd.DefaultResetPin, Level: gpio.Low},
		{Kind: epdtest.Delay, Delay: 10 * time.Millisecond},
		{Kind: epdtest.Write, Pin: epd.DefaultResetPin, Level: gpio.High},
		{Kind: epdtest.Delay, Delay: 200 * time.Millisecond},
	}
	got := rec.Events()
	if len(got) != len(want) {
		t.Fatalf("events = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if p.State() != epd.StateResetting {
		t.Errorf("state = %s, want resetting", p.State())
	}
}

func TestWaitUntilReady(t *testing.T) {
	p, rec := newPanel(t, epd.DefaultConfig())
	rec.QueueBusy(gpio.Low, gpio.Low, gpio.High)
	if err := p.WaitUntilReady(context.Background()); err != nil {
		t.Fatalf("WaitUntilReady: %v", err)
	}

	poll := epdtest.Event{Kind: epdtest.Delay, Delay: 20 * time.Millisecond}
	read := func(l gpio.Level) epdtest.Event {
		return epdtest.Event{Kind: epdtest.Read, Pin: epd.DefaultBusyPin, Level: l}
	}
	want := []epdtest.Event{
		poll, read(gpio.Low),
		poll, read(gpio.Low),
		poll, read(gpio.High),
		poll,
	}
	got := rec.Events()
	if len(got) != len(want) {
		t.Fatalf("events = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestWaitUntilReadyLogsAtInfo(t *testing.T) {
	var buf bytes.Buffer
	appLog.SetLevel(appLog.LevelInfo)
	appLog.SetOutput(&buf)
	defer appLog.SetOutput(os.Stderr)

	p, rec := newPanel(t, epd.DefaultConfig())
	rec.QueueBusy(gpio.Low, gpio.High)
	if err := p.WaitUntilReady(context.Background()); err != nil {
		t.Fatalf("WaitUntilReady: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"[INFO] panel busy pin=24", "[INFO] panel busy released waited=40ms"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}

func TestWaitUntilReadyTimeout(t *testing.T) {
	cfg := epd.DefaultConfig()
	cfg.Timing.BusyTimeout = 100 * time.Millisecond
	p, rec := newPanel(t, cfg)
	rec.BusyDefault = gpio.Low

	err := p.WaitUntilReady(context.Background())
	if !errors.Is(err, epd.ErrBusyTimeout) {
		t.Fatalf("err = %v, want ErrBusyTimeout", err)
	}
	var reads int
	for _, ev := range rec.Events() {
		if ev.Kind == epdtest.Read {
			reads++
		}
	}
	if reads != 5 {
		t.Errorf("busy read %d times, want 5", reads)
	}
}

func TestWaitUntilReadyCancelled(t *testing.T) {
	cfg := epd.DefaultConfig()
	cfg.Timing.BusyTimeout = 0
	p, rec := newPanel(t, cfg)
	rec.BusyDefault = gpio.Low

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.WaitUntilReady(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestWaitUntilReadyRealClock(t *testing.T) {
	cfg := epd.DefaultConfig()
	cfg.Timing.BusyPoll = time.Millisecond
	cfg.Timing.BusyTimeout = 5 * time.Millisecond
	rec := epdtest.New(cfg.Pins)
	rec.BusyDefault = gpio.Low
	p, err := epd.New(rec, cfg)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := p.WaitUntilReady(context.Background()); !errors.Is(err, epd.ErrBusyTimeout) {
		t.Fatalf("err = %v, want ErrBusyTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Errorf("returned after %s, before the timeout", elapsed)
	}
}

func TestInitializeTimeout(t *testing.T) {
	cfg := epd.DefaultConfig()
	cfg.Timing.BusyTimeout = 60 * time.Millisecond
	p, rec := newPanel(t, cfg)
	rec.BusyDefault = gpio.Low

	err := p.Initialize(context.Background())
	if !errors.Is(err, epd.ErrBusyTimeout) {
		t.Fatalf("err = %v, want ErrBusyTimeout", err)
	}
	assertFrames(t, rec.Frames(), initFrames[:2])
	if p.State() != epd.StateUninitialized {
		t.Errorf("state = %s, want uninitialized", p.State())
	}
	if _, err := p.Write([]byte{0x00}); !errors.Is(err, epd.ErrNotReady) {
		t.Errorf("Write after failed init err = %v", err)
	}
}

func TestRefreshAndSleep(t *testing.T) {
	p, rec := newPanel(t, epd.DefaultConfig())
	ctx := context.Background()
	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	rec.Reset()

	if err := p.RefreshAndSleep(ctx); err != nil {
		t.Fatalf("RefreshAndSleep: %v", err)
	}
	assertFrames(t, rec.Frames(), []epdtest.Frame{
		{Command: 0x12},
		{Command: 0x02},
		{Command: 0x07, Data: []byte{0xA5}},
	})

	// Refresh settle after byte 1, busy reads only between power off
	// (byte 2) and deep sleep (byte 3).
	clocks, settled, reads := 0, false, 0
	for _, ev := range rec.Events() {
		switch ev.Kind {
		case epdtest.Write:
			if ev.Pin == epd.DefaultClockPin && ev.Level == gpio.High {
				clocks++
			}
		case epdtest.Delay:
			if clocks == 8 && ev.Delay == 200*time.Microsecond {
				settled = true
			}
		case epdtest.Read:
			reads++
			if clocks != 16 {
				t.Errorf("busy read after %d clocks, want 16", clocks)
			}
		}
	}
	if !settled {
		t.Error("no 200µs settle after the refresh command")
	}
	if reads == 0 {
		t.Error("no busy wait between power off and deep sleep")
	}
	if p.State() != epd.StateSleeping {
		t.Errorf("state = %s, want sleeping", p.State())
	}
}

func TestRefreshAndSleepRequiresReady(t *testing.T) {
	p, rec := newPanel(t, epd.DefaultConfig())
	ctx := context.Background()
	if err := p.RefreshAndSleep(ctx); !errors.Is(err, epd.ErrNotReady) {
		t.Fatalf("before Initialize: err = %v, want ErrNotReady", err)
	}
	if len(rec.Bytes()) != 0 {
		t.Error("bytes sent to an uninitialized panel")
	}

	if err := p.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	if err := p.RefreshAndSleep(ctx); err != nil {
		t.Fatal(err)
	}
	if err := p.RefreshAndSleep(ctx); !errors.Is(err, epd.ErrNotReady) {
		t.Fatalf("while sleeping: err = %v, want ErrNotReady", err)
	}

	// Initialize wakes the panel through a hardware reset.
	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("Initialize after sleep: %v", err)
	}
	if p.State() != epd.StateReady {
		t.Errorf("state = %s, want ready", p.State())
	}
}

func TestWriteStreamsPixelData(t *testing.T) {
	p, rec := newPanel(t, epd.DefaultConfig())
	ctx := context.Background()
	if err := p.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	pixels := []byte{0x00, 0xFF, 0x3C}
	if n, err := p.Write(pixels); err != nil || n != len(pixels) {
		t.Fatalf("Write = %d, %v", n, err)
	}
	frames := rec.Frames()
	last := frames[len(frames)-1]
	if last.Command != 0x13 || !bytes.Equal(last.Data, pixels) {
		t.Errorf("last frame = %v, want 0x13 %X", last, pixels)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	dup := epd.DefaultConfig()
	dup.Pins.DC = dup.Pins.Busy

	noPoll := epd.DefaultConfig()
	noPoll.Timing.BusyPoll = 0

	negative := epd.DefaultConfig()
	negative.Pins.Reset = -1

	for name, cfg := range map[string]epd.Config{
		"duplicate pin": dup,
		"zero poll":     noPoll,
		"negative pin":  negative,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := epd.New(epdtest.New(cfg.Pins), cfg)
			if !errors.Is(err, epd.ErrInvalidConfig) {
				t.Fatalf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}

	_, err := epd.New(epdtest.New(dup.Pins), dup)
	var pe *epd.PinError
	if !errors.As(err, &pe) || pe.Conflict != "dc" {
		t.Errorf("err = %v, want PinError conflicting with dc", err)
	}
}

func TestStateString(t *testing.T) {
	tests := map[epd.State]string{
		epd.StateUninitialized: "uninitialized",
		epd.StateResetting:     "resetting",
		epd.StateConfiguring:   "configuring",
		epd.StateReady:         "ready",
		epd.StateSleeping:      "sleeping",
		epd.State(42):          "State(42)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
