// Package slideshow cycles prepared frames onto the panel on a schedule.
package slideshow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"epdslide/internal/epd"
	"epdslide/internal/frame"
	appLog "epdslide/internal/log"
)

var ErrNoFrames = errors.New("slideshow: no frames")

// Device is the part of epd.Panel a slideshow needs.
type Device interface {
	Initialize(ctx context.Context) error
	Write(p []byte) (int, error)
	RefreshAndSleep(ctx context.Context) error
	State() epd.State
}

// Show runs one full display cycle: wake and configure the panel, stream
// the frame, refresh, sleep. plane is not modified.
func Show(ctx context.Context, dev Device, plane []byte, invert bool) error {
	if len(plane) != frame.Size {
		return fmt.Errorf("%w: got %d bytes, want %d", frame.ErrSize, len(plane), frame.Size)
	}
	if invert {
		plane = frame.Invert(append([]byte(nil), plane...))
	}

	start := time.Now()
	if err := dev.Initialize(ctx); err != nil {
		return err
	}
	if _, err := dev.Write(plane); err != nil {
		return err
	}
	if err := dev.RefreshAndSleep(ctx); err != nil {
		return err
	}
	appLog.Debug("frame shown", "took", time.Since(start))
	return nil
}

// Status is a snapshot for the status API.
type Status struct {
	Dir        string    `json:"dir"`
	Schedule   string    `json:"schedule,omitempty"`
	Frames     int       `json:"frames"`
	Current    string    `json:"current,omitempty"`
	Shown      int       `json:"shown"`
	LastShown  time.Time `json:"last_shown,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	PanelState string    `json:"panel_state"`
}

// Slideshow shows the frames of a directory in name order, wrapping
// around. The directory is re-listed on every step so frames can be
// added or removed while running.
type Slideshow struct {
	dev    Device
	dir    string
	invert bool
	opts   frame.Options

	// run serializes access to dev.
	run  sync.Mutex
	next int

	mu     sync.RWMutex
	status Status
}

// New builds a slideshow over dir. Image frames are packed with opts.
func New(dev Device, dir string, invert bool, opts frame.Options) *Slideshow {
	return &Slideshow{
		dev:    dev,
		dir:    dir,
		invert: invert,
		opts:   opts,
		status: Status{Dir: dir},
	}
}

// Next shows the next frame.
func (s *Slideshow) Next(ctx context.Context) error {
	s.run.Lock()
	defer s.run.Unlock()

	err := s.showNext(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.status.LastError = err.Error()
	} else {
		s.status.LastError = ""
	}
	return err
}

func (s *Slideshow) showNext(ctx context.Context) error {
	files, err := frame.List(s.dir)
	if err != nil {
		return fmt.Errorf("slideshow: %w", err)
	}
	s.mu.Lock()
	s.status.Frames = len(files)
	s.mu.Unlock()
	if len(files) == 0 {
		return fmt.Errorf("%w in %s", ErrNoFrames, s.dir)
	}

	path := files[s.next%len(files)]
	s.next = (s.next + 1) % len(files)

	plane, err := frame.Load(path, s.opts)
	if err != nil {
		return err
	}
	appLog.Info("showing frame", "file", filepath.Base(path))
	if err := Show(ctx, s.dev, plane, s.invert); err != nil {
		return fmt.Errorf("slideshow: %s: %w", filepath.Base(path), err)
	}

	s.mu.Lock()
	s.status.Current = filepath.Base(path)
	s.status.Shown++
	s.status.LastShown = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *Slideshow) Status() Status {
	s.mu.RLock()
	st := s.status
	s.mu.RUnlock()

	// Reading the state while a cycle runs would race with the panel.
	if s.run.TryLock() {
		st.PanelState = s.dev.State().String()
		s.run.Unlock()
	} else {
		st.PanelState = "busy"
	}
	return st
}

// Run shows a frame immediately, then on every tick of schedule (standard
// five-field cron syntax or a descriptor such as "@hourly") until ctx is
// done. Failed steps are logged and retried on the next tick.
func (s *Slideshow) Run(ctx context.Context, schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("slideshow: bad schedule %q: %w", schedule, err)
	}

	s.mu.Lock()
	s.status.Schedule = schedule
	s.mu.Unlock()

	s.tick(ctx)
	c.Start()
	appLog.Info("slideshow started", "dir", s.dir, "schedule", schedule)

	<-ctx.Done()
	<-c.Stop().Done()
	appLog.Info("slideshow stopped")
	return nil
}

func (s *Slideshow) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := s.Next(ctx); err != nil {
		appLog.Error("slideshow step failed", err)
	}
}
