package core

import (
	"sync"
	"time"

	"coop-door-controller/internal/automation"
	"coop-door-controller/internal/door"
)

// Status is a point-in-time view of the agent for transports.
type Status struct {
	Door         door.State           `json:"door"`
	Unconfirmed  bool                 `json:"unconfirmed,omitempty"`
	Poisoned     bool                 `json:"poisoned,omitempty"`
	LightLevel   *float64             `json:"light_level,omitempty"`
	LightReadAt  time.Time            `json:"light_read_at,omitempty"`
	LightError   string               `json:"light_error,omitempty"`
	Automation   bool                 `json:"automation"`
	LastDecision *automation.Decision `json:"last_decision,omitempty"`
	LastTick     time.Time            `json:"last_tick,omitempty"`
	LastReport   *door.Report         `json:"last_actuation,omitempty"`
}

// StatusTracker holds the latest observations behind a lock.
type StatusTracker struct {
	mu     sync.RWMutex
	status Status
}

// NewStatusTracker creates an empty tracker.
func NewStatusTracker(automationEnabled bool) *StatusTracker {
	return &StatusTracker{status: Status{Automation: automationEnabled}}
}

// Snapshot returns a copy of the current status.
func (t *StatusTracker) Snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// SetDoor records the door state.
func (t *StatusTracker) SetDoor(state door.State, unconfirmed, poisoned bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Door = state
	t.status.Unconfirmed = unconfirmed
	t.status.Poisoned = poisoned
}

// SetLight records a light reading or its failure.
func (t *StatusTracker) SetLight(level float64, err error, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.LightReadAt = at
	if err != nil {
		t.status.LightError = err.Error()
		return
	}
	t.status.LightLevel = &level
	t.status.LightError = ""
}

// SetTick records the latest automation tick.
func (t *StatusTracker) SetTick(r automation.TickReport) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.LastTick = r.Time
	if r.Err != "" && !r.Requested {
		return
	}
	d := r.Decision
	t.status.LastDecision = &d
}

// SetReport records the latest actuation.
func (t *StatusTracker) SetReport(r door.Report) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.LastReport = &r
}
