package door

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"coop-door-controller/internal/logging"
)

// OpenTimeoutPolicy decides the state after an open sequence that never
// saw the limit switch.
type OpenTimeoutPolicy string

const (
	// AssumeOpen treats the timeout as success and logs a possible fault.
	AssumeOpen OpenTimeoutPolicy = "assume_open"
	// HoldOpening leaves the door Opening and unconfirmed. Both open and
	// close requests are accepted from there.
	HoldOpening OpenTimeoutPolicy = "hold_opening"
)

// Sequencer runs the physical sequences. *Actuator is the production one.
type Sequencer interface {
	Close(ctx context.Context) error
	Open(ctx context.Context) (limitReached bool, err error)
}

// Report describes one request that reached the actuator.
type Report struct {
	ID           uuid.UUID     `json:"id"`
	Action       Action        `json:"action"`
	From         State         `json:"from"`
	To           State         `json:"to"`
	Outcome      Outcome       `json:"outcome"`
	LimitReached bool          `json:"limit_reached"`
	Started      time.Time     `json:"started"`
	Duration     time.Duration `json:"duration"`
	Err          string        `json:"error,omitempty"`
}

// Controller owns the door state and serializes every actuation. The
// lock is held for the whole physical sequence; State never waits on it.
type Controller struct {
	seq    Sequencer
	policy OpenTimeoutPolicy
	log    *logging.Logger

	// sem is the actuation lock.
	sem      chan struct{}
	poisoned atomic.Bool

	mu          sync.RWMutex
	state       State
	unconfirmed bool
	onReport    func(Report)
	onState     func(State)
}

// NewController creates a controller in the Closed state.
func NewController(seq Sequencer, policy OpenTimeoutPolicy, log *logging.Logger) *Controller {
	if policy == "" {
		policy = AssumeOpen
	}
	return &Controller{
		seq:    seq,
		policy: policy,
		log:    log.With("component", "door"),
		sem:    make(chan struct{}, 1),
		state:  Closed,
	}
}

// SetOnReport registers the observer for actuation reports.
func (c *Controller) SetOnReport(fn func(Report)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReport = fn
}

// SetOnStateChange registers the observer for state changes.
func (c *Controller) SetOnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// State returns the current state without waiting for a running sequence.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Unconfirmed reports whether the door is Opening after a timed-out open
// under the hold_opening policy.
func (c *Controller) Unconfirmed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unconfirmed
}

// Poisoned reports whether a sequence has panicked.
func (c *Controller) Poisoned() bool {
	return c.poisoned.Load()
}

// RequestOpen opens the door unless it is already open or moving.
func (c *Controller) RequestOpen(ctx context.Context) (Outcome, error) {
	return c.request(ctx, ActionOpen)
}

// RequestClose closes the door unless it is already closed or moving.
func (c *Controller) RequestClose(ctx context.Context) (Outcome, error) {
	return c.request(ctx, ActionClose)
}

func (c *Controller) request(ctx context.Context, action Action) (Outcome, error) {
	if c.poisoned.Load() {
		c.log.Warn("request skipped, controller poisoned", "action", action)
		return Skipped, ErrLockPoisoned
	}

	// A running sequence is reported without queueing behind it.
	if state, unconfirmed := c.snapshot(); state.Moving() && !unconfirmed {
		c.log.Info("request ignored, door in motion", "action", action, "state", state)
		return InProgress, nil
	}

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return Skipped, ctx.Err()
	}
	defer func() { <-c.sem }()

	if c.poisoned.Load() {
		c.log.Warn("request skipped, controller poisoned", "action", action)
		return Skipped, ErrLockPoisoned
	}

	from, unconfirmed := c.snapshot()
	switch {
	case from == action.target():
		c.log.Info("door already "+from.String(), "action", action)
		return AlreadyInState, nil
	case from.Moving() && !unconfirmed:
		c.log.Info("request ignored, door in motion", "action", action, "state", from)
		return InProgress, nil
	}

	report := Report{
		ID:      uuid.New(),
		Action:  action,
		From:    from,
		Started: time.Now(),
	}
	log := c.log.With("run", report.ID.String(), "action", action)
	log.Info("starting door sequence", "from", from)

	c.setState(action.transition(), false)
	limitReached, err := c.run(ctx, action)
	report.LimitReached = limitReached
	report.Duration = time.Since(report.Started)

	outcome := Actuated
	switch {
	case err != nil:
		// Revert so the next request reruns the whole sequence.
		c.setState(from, unconfirmed)
		outcome = Skipped
		if errors.Is(err, ErrLockPoisoned) {
			log.Error("door sequence panicked, controller poisoned", "error", err)
		} else {
			log.Warn("door sequence aborted", "error", err, "state", from)
		}

	case action == ActionClose:
		c.setState(Closed, false)

	case limitReached:
		c.setState(Open, false)

	case c.policy == HoldOpening:
		c.setState(Opening, true)
		err = ErrLimitTimeout
		log.Warn("limit switch not reached, holding opening state", "timeout", report.Duration)

	default:
		c.setState(Open, false)
		log.Warn("limit switch not reached, assuming open; check the switch", "timeout", report.Duration)
	}

	report.To = c.State()
	report.Outcome = outcome
	if err != nil {
		report.Err = err.Error()
	}
	if outcome == Actuated {
		log.Info("door sequence finished", "state", report.To, "limit_reached", limitReached, "duration", report.Duration)
	}
	c.emitReport(report)

	return outcome, err
}

// run executes one sequence, turning a panic into ErrLockPoisoned.
func (c *Controller) run(ctx context.Context, action Action) (limitReached bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.poisoned.Store(true)
			limitReached = false
			err = fmt.Errorf("%w: %v", ErrLockPoisoned, r)
		}
	}()

	if action == ActionClose {
		return false, c.seq.Close(ctx)
	}
	return c.seq.Open(ctx)
}

func (c *Controller) snapshot() (State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state, c.unconfirmed
}

func (c *Controller) setState(next State, unconfirmed bool) {
	c.mu.Lock()
	changed := c.state != next
	c.state = next
	c.unconfirmed = unconfirmed
	onState := c.onState
	c.mu.Unlock()

	if changed && onState != nil {
		onState(next)
	}
}

func (c *Controller) emitReport(r Report) {
	c.mu.RLock()
	onReport := c.onReport
	c.mu.RUnlock()
	if onReport != nil {
		onReport(r)
	}
}
