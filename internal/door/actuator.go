package door

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coop-door-controller/internal/logging"
)

// Timing is the actuation timing contract.
type Timing struct {
	// SafetyDelay separates de-energizing from changing direction.
	SafetyDelay time.Duration
	// CloseDuration is how long the motor runs when closing. There is no
	// closed-position sensor.
	CloseDuration time.Duration
	// OpenTimeout bounds the wait for the limit switch when opening.
	OpenTimeout time.Duration
}

// DefaultTiming returns the timing of the stock coop door motor.
func DefaultTiming() Timing {
	return Timing{
		SafetyDelay:   250 * time.Millisecond,
		CloseDuration: 5 * time.Second,
		OpenTimeout:   6 * time.Second,
	}
}

// Actuator runs the motor sequences. It does no locking of its own; the
// Controller guarantees one sequence at a time.
type Actuator struct {
	hw     Hardware
	timing Timing
	log    *logging.Logger
}

// NewActuator creates an actuator over hw.
func NewActuator(hw Hardware, timing Timing, log *logging.Logger) *Actuator {
	return &Actuator{
		hw:     hw,
		timing: timing,
		log:    log.With("component", "actuator"),
	}
}

// Close runs the open-loop close sequence.
func (a *Actuator) Close(ctx context.Context) error {
	lines, err := a.acquire(false)
	if err != nil {
		return err
	}
	defer a.release(lines)

	if err := lines.SetEnable(0); err != nil {
		return fmt.Errorf("de-energize motor: %w", err)
	}
	if err := sleep(ctx, a.timing.SafetyDelay); err != nil {
		return err
	}
	if err := lines.SetDirection(directionClosing); err != nil {
		return fmt.Errorf("set closing direction: %w", err)
	}
	if err := lines.SetEnable(1); err != nil {
		return fmt.Errorf("energize motor: %w", err)
	}
	a.log.Debug("motor running", "direction", "closing", "for", a.timing.CloseDuration)
	return sleep(ctx, a.timing.CloseDuration)
}

// Open runs the open sequence and reports whether the limit switch was
// reached before the timeout. A timeout is not an error here; the
// Controller applies its policy.
func (a *Actuator) Open(ctx context.Context) (limitReached bool, err error) {
	lines, err := a.acquire(true)
	if err != nil {
		return false, err
	}
	defer a.release(lines)

	if err := lines.SetEnable(0); err != nil {
		return false, fmt.Errorf("de-energize motor: %w", err)
	}
	if err := sleep(ctx, a.timing.SafetyDelay); err != nil {
		return false, err
	}

	edges := lines.LimitEdges()
	drain(edges)

	if err := lines.SetDirection(directionOpening); err != nil {
		return false, fmt.Errorf("set opening direction: %w", err)
	}
	if err := lines.SetEnable(1); err != nil {
		return false, fmt.Errorf("energize motor: %w", err)
	}
	a.log.Debug("motor running", "direction", "opening", "timeout", a.timing.OpenTimeout)

	timeout := time.NewTimer(a.timing.OpenTimeout)
	defer timeout.Stop()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-edges:
		return true, nil
	case <-timeout.C:
		return false, nil
	}
}

func (a *Actuator) acquire(armLimit bool) (Lines, error) {
	lines, err := a.hw.Acquire(armLimit)
	if err != nil {
		if !errors.Is(err, ErrHardwareUnavailable) {
			err = fmt.Errorf("%w: %w", ErrHardwareUnavailable, err)
		}
		return nil, err
	}
	return lines, nil
}

// release de-energizes both outputs and hands the lines back. It runs on
// every exit path, panics included.
func (a *Actuator) release(lines Lines) {
	if err := lines.SetEnable(0); err != nil {
		a.log.Error("failed to de-energize motor", "error", err)
	}
	if err := lines.SetDirection(0); err != nil {
		a.log.Error("failed to reset direction", "error", err)
	}
	if err := lines.Release(); err != nil {
		a.log.Warn("failed to release lines", "error", err)
	}
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
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

func drain(ch <-chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
