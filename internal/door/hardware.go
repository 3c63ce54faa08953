package door

import "time"

// Lines are the acquired motor outputs and, when armed, the limit input.
// They are held for a single sequence.
type Lines interface {
	SetDirection(value int) error
	SetEnable(value int) error
	// LimitEdges delivers one value per debounced limit switch edge. It is
	// nil when the limit input was not armed.
	LimitEdges() <-chan struct{}
	Release() error
}

// Hardware hands out Lines for one sequence.
type Hardware interface {
	Acquire(armLimit bool) (Lines, error)
}

// Pins are the line offsets on the GPIO chip.
type Pins struct {
	Limit     int
	Direction int
	Enable    int
}

// DefaultDebounce is the limit switch debounce period of the stock wiring.
const DefaultDebounce = 10 * time.Millisecond

// Motor direction polarity.
const (
	directionOpening = 0
	directionClosing = 1
)
