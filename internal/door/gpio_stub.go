//go:build !linux

package door

import (
	"fmt"
	"time"
)

// GPIO is unavailable off Linux; every Acquire fails.
type GPIO struct {
	chip string
}

// NewGPIO creates a GPIO back-end stub.
func NewGPIO(chip string, pins Pins, debounce time.Duration) *GPIO {
	return &GPIO{chip: chip}
}

// Acquire always returns ErrHardwareUnavailable.
func (g *GPIO) Acquire(armLimit bool) (Lines, error) {
	return nil, fmt.Errorf("%w: gpio character devices require linux (%s)", ErrHardwareUnavailable, g.chip)
}
