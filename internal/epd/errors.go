package epd

import (
	"errors"
	"fmt"
)

var (
	// ErrBusyTimeout is returned when the busy line did not report ready
	// within Timing.BusyTimeout.
	ErrBusyTimeout = errors.New("epd: busy wait timed out")
	// ErrNotReady is returned by operations that need an initialized panel.
	ErrNotReady = errors.New("epd: panel not initialized")
	// ErrInvalidConfig wraps every configuration problem found by New.
	ErrInvalidConfig = errors.New("epd: invalid config")
	// ErrWriteOnly is returned by Transport.Tx when a read buffer is given.
	ErrWriteOnly = errors.New("epd: bus is write-only")
)

// PinError describes a bad pin assignment.
type PinError struct {
	Name     string
	Pin      Pin
	Conflict string
}

func (e *PinError) Error() string {
	if e.Conflict != "" {
		return fmt.Sprintf("epd: pin %d assigned to both %s and %s", e.Pin, e.Conflict, e.Name)
	}
	return fmt.Sprintf("epd: pin %s has invalid number %d", e.Name, e.Pin)
}

func (e *PinError) Unwrap() error { return ErrInvalidConfig }
