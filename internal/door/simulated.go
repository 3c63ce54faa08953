package door

import (
	"fmt"
	"sync"
	"time"
)

// Write is one recorded output change.
type Write struct {
	Line  string
	Value int
}

// Simulated is an in-memory Hardware. The limit switch fires LimitDelay
// after the motor starts opening; a negative delay means it never fires.
type Simulated struct {
	mu           sync.Mutex
	limitDelay   time.Duration
	acquireErr   error
	held         bool
	acquisitions int
	overlaps     int
	direction    int
	enable       int
	writes       []Write
}

// NewSimulated creates a simulated door with the given limit switch delay.
func NewSimulated(limitDelay time.Duration) *Simulated {
	return &Simulated{limitDelay: limitDelay}
}

// SetLimitDelay changes when the limit switch fires on later sequences.
func (s *Simulated) SetLimitDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limitDelay = d
}

// SetAcquireError makes every Acquire fail with err until cleared with nil.
func (s *Simulated) SetAcquireError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquireErr = err
}

// Acquire hands out the simulated lines. A second Acquire while the lines
// are held is counted as an overlap and fails.
func (s *Simulated) Acquire(armLimit bool) (Lines, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.acquireErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrHardwareUnavailable, s.acquireErr)
	}
	if s.held {
		s.overlaps++
		return nil, fmt.Errorf("%w: lines busy", ErrHardwareUnavailable)
	}
	s.held = true
	s.acquisitions++
	s.direction, s.enable = 0, 0

	l := &simLines{sim: s}
	if armLimit {
		l.edges = make(chan struct{}, 1)
	}
	return l, nil
}

// Writes returns every output change in order.
func (s *Simulated) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Write(nil), s.writes...)
}

// ResetWrites clears the write log.
func (s *Simulated) ResetWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = nil
}

// Levels returns the current output values.
func (s *Simulated) Levels() (direction, enable int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direction, s.enable
}

// Held reports whether a sequence currently holds the lines.
func (s *Simulated) Held() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// Acquisitions counts successful Acquire calls.
func (s *Simulated) Acquisitions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquisitions
}

// Overlaps counts Acquire calls made while the lines were held.
func (s *Simulated) Overlaps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlaps
}

type simLines struct {
	sim   *Simulated
	edges chan struct{}
	timer *time.Timer
}

func (l *simLines) SetDirection(value int) error {
	l.sim.mu.Lock()
	defer l.sim.mu.Unlock()
	l.sim.direction = value
	l.sim.writes = append(l.sim.writes, Write{Line: "direction", Value: value})
	return nil
}

func (l *simLines) SetEnable(value int) error {
	l.sim.mu.Lock()
	defer l.sim.mu.Unlock()
	l.sim.enable = value
	l.sim.writes = append(l.sim.writes, Write{Line: "enable", Value: value})

	if value == 1 && l.edges != nil && l.sim.direction == directionOpening && l.sim.limitDelay >= 0 && l.timer == nil {
		edges := l.edges
		l.timer = time.AfterFunc(l.sim.limitDelay, func() {
			select {
			case edges <- struct{}{}:
			default:
			}
		})
	}
	return nil
}

func (l *simLines) LimitEdges() <-chan struct{} {
	if l.edges == nil {
		return nil
	}
	return l.edges
}

func (l *simLines) Release() error {
	l.sim.mu.Lock()
	defer l.sim.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
	}
	l.sim.held = false
	return nil
}
