//go:build linux

package door

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "coopdoor"

// GPIO acquires the door lines from a GPIO character device.
type GPIO struct {
	chip     string
	pins     Pins
	debounce time.Duration
}

// NewGPIO creates a GPIO back-end for the given chip (e.g. "gpiochip0").
func NewGPIO(chip string, pins Pins, debounce time.Duration) *GPIO {
	if chip == "" {
		chip = "gpiochip0"
	}
	return &GPIO{chip: chip, pins: pins, debounce: debounce}
}

// Acquire requests both outputs at 0 and, if armLimit is set, the limit
// input with pull-up, both edges and debounce.
func (g *GPIO) Acquire(armLimit bool) (Lines, error) {
	l := &gpioLines{}

	var err error
	l.direction, err = gpiocdev.RequestLine(g.chip, g.pins.Direction,
		gpiocdev.WithConsumer(consumer),
		gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("%w: direction line %d: %w", ErrHardwareUnavailable, g.pins.Direction, err)
	}

	l.enable, err = gpiocdev.RequestLine(g.chip, g.pins.Enable,
		gpiocdev.WithConsumer(consumer),
		gpiocdev.AsOutput(0))
	if err != nil {
		l.Release()
		return nil, fmt.Errorf("%w: enable line %d: %w", ErrHardwareUnavailable, g.pins.Enable, err)
	}

	if armLimit {
		l.edges = make(chan struct{}, 1)
		l.limit, err = gpiocdev.RequestLine(g.chip, g.pins.Limit,
			gpiocdev.WithConsumer(consumer),
			gpiocdev.WithPullUp,
			gpiocdev.WithBothEdges,
			gpiocdev.WithDebounce(g.debounce),
			gpiocdev.WithEventHandler(l.handleEdge))
		if err != nil {
			l.Release()
			return nil, fmt.Errorf("%w: limit line %d: %w", ErrHardwareUnavailable, g.pins.Limit, err)
		}
	}

	return l, nil
}

type gpioLines struct {
	direction *gpiocdev.Line
	enable    *gpiocdev.Line
	limit     *gpiocdev.Line
	edges     chan struct{}
}

func (l *gpioLines) handleEdge(evt gpiocdev.LineEvent) {
	if evt.Type != gpiocdev.LineEventRisingEdge && evt.Type != gpiocdev.LineEventFallingEdge {
		return
	}
	select {
	case l.edges <- struct{}{}:
	default:
	}
}

func (l *gpioLines) SetDirection(value int) error {
	return l.direction.SetValue(value)
}

func (l *gpioLines) SetEnable(value int) error {
	return l.enable.SetValue(value)
}

func (l *gpioLines) LimitEdges() <-chan struct{} {
	if l.edges == nil {
		return nil
	}
	return l.edges
}

func (l *gpioLines) Release() error {
	var firstErr error
	for _, line := range []*gpiocdev.Line{l.limit, l.enable, l.direction} {
		if line == nil {
			continue
		}
		if err := line.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
