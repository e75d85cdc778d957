// Package epdtest provides a recording epd.Port that decodes the bit-banged
// bus back into command and data bytes.
package epdtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"

	"epdslide/internal/epd"
)

type EventKind int

const (
	Write EventKind = iota
	Read
	Delay
)

// Event is one entry of the recorded timeline.
type Event struct {
	Kind  EventKind
	Pin   epd.Pin
	Level gpio.Level
	Delay time.Duration
}

// Byte is a decoded byte with the DC level it was framed with.
type Byte struct {
	Value byte
	Data  bool
}

// Frame is a command byte followed by its data bytes.
type Frame struct {
	Command byte
	Data    []byte
}

func (f Frame) String() string {
	return fmt.Sprintf("%#02x % X", f.Command, f.Data)
}

// Recorder implements epd.Port. The zero value is not usable; use New.
type Recorder struct {
	mu   sync.Mutex
	pins epd.Pins

	levels map[epd.Pin]gpio.Level
	events []Event
	bytes  []Byte
	errs   []string
	clocks int

	busyQueue []gpio.Level
	// BusyDefault is read once the queued busy levels are exhausted.
	BusyDefault gpio.Level

	csActive bool
	bits     int
	cur      byte
	dcAtBit0 gpio.Level
}

var _ epd.Port = (*Recorder)(nil)

// New returns a Recorder for the given wiring. The busy line reads ready.
func New(pins epd.Pins) *Recorder {
	return &Recorder{
		pins:        pins,
		levels:      make(map[epd.Pin]gpio.Level),
		BusyDefault: gpio.High,
	}
}

// QueueBusy scripts the next busy-line reads.
func (r *Recorder) QueueBusy(levels ...gpio.Level) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.busyQueue = append(r.busyQueue, levels...)
}

func (r *Recorder) SetLevel(p epd.Pin, l gpio.Level) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, known := r.levels[p]
	r.levels[p] = l
	r.events = append(r.events, Event{Kind: Write, Pin: p, Level: l})

	switch p {
	case r.pins.ChipSelect:
		if l == gpio.Low {
			if r.csActive {
				r.violation("chip select asserted while already active")
			}
			r.csActive = true
			r.bits, r.cur = 0, 0
			return
		}
		if r.csActive && r.bits != 0 {
			r.violation(fmt.Sprintf("chip select released after %d bits", r.bits))
		}
		r.csActive = false
	case r.pins.Clock:
		if l != gpio.High || (known && prev == gpio.High) {
			return
		}
		r.clocks++
		if !r.csActive {
			r.violation("clock pulse with chip select released")
			return
		}
		dc := r.levels[r.pins.DC]
		if r.bits == 0 {
			r.dcAtBit0 = dc
		} else if dc != r.dcAtBit0 {
			r.violation("dc changed inside a byte")
		}
		r.cur <<= 1
		if r.levels[r.pins.Data] == gpio.High {
			r.cur |= 1
		}
		r.bits++
		if r.bits == 8 {
			r.bytes = append(r.bytes, Byte{Value: r.cur, Data: r.dcAtBit0 == gpio.High})
			r.bits, r.cur = 0, 0
		}
	case r.pins.DC:
		if r.csActive && r.bits > 0 && known && prev != l {
			r.violation("dc changed inside a byte")
		}
	}
}

func (r *Recorder) ReadLevel(p epd.Pin) gpio.Level {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.levels[p]
	if p == r.pins.Busy {
		l = r.BusyDefault
		if len(r.busyQueue) > 0 {
			l = r.busyQueue[0]
			r.busyQueue = r.busyQueue[1:]
		}
	}
	r.events = append(r.events, Event{Kind: Read, Pin: p, Level: l})
	return l
}

// Sleep records d and returns immediately unless ctx is done. It can be
// passed to epd.WithSleeper.
func (r *Recorder) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Kind: Delay, Delay: d})
	return nil
}

// Events returns a copy of the timeline.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Bytes returns every decoded byte in order.
func (r *Recorder) Bytes() []Byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Byte(nil), r.bytes...)
}

// Frames groups decoded bytes by command. Data bytes sent before any
// command are dropped.
func (r *Recorder) Frames() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Frame
	for _, b := range r.bytes {
		if !b.Data {
			out = append(out, Frame{Command: b.Value})
			continue
		}
		if len(out) == 0 {
			continue
		}
		out[len(out)-1].Data = append(out[len(out)-1].Data, b.Value)
	}
	return out
}

// Commands returns the command bytes in order.
func (r *Recorder) Commands() []byte {
	var out []byte
	for _, f := range r.Frames() {
		out = append(out, f.Command)
	}
	return out
}

// Clocks counts rising clock edges.
func (r *Recorder) Clocks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clocks
}

// Level is the last level written to p.
func (r *Recorder) Level(p epd.Pin) gpio.Level {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.levels[p]
}

// Violations lists protocol errors seen on the bus.
func (r *Recorder) Violations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errs...)
}

// Reset forgets everything recorded so far but keeps pin levels.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events, r.bytes, r.errs = nil, nil, nil
	r.clocks = 0
}

func (r *Recorder) violation(msg string) {
	r.errs = append(r.errs, msg)
}
