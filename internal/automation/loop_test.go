package automation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coop-door-controller/internal/door"
	"coop-door-controller/internal/logging"
	"coop-door-controller/internal/sensor"
	"coop-door-controller/internal/settings"
)

type fakeLight struct {
	level float64
	err   error
}

func (f fakeLight) ReadLevel() (float64, error) { return f.level, f.err }

type staticSettings settings.Settings

func (s staticSettings) Get() settings.Settings { return settings.Settings(s) }

type fakeDoor struct {
	mu          sync.Mutex
	opens       int
	closes      int
	unconfirmed bool
}

func (d *fakeDoor) Unconfirmed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unconfirmed
}

func (d *fakeDoor) RequestOpen(context.Context) (door.Outcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	return door.Actuated, nil
}

func (d *fakeDoor) RequestClose(context.Context) (door.Outcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return door.Actuated, nil
}

func (d *fakeDoor) counts() (opens, closes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens, d.closes
}

func at(hour, minute int) func() time.Time {
	return func() time.Time {
		return time.Date(2026, 6, 1, hour, minute, 0, 0, time.Local)
	}
}

func newTestLoop(light LightReader, d Door, now func() time.Time) *Loop {
	l := NewLoop(light, staticSettings(settings.Default()), d, time.Second, logging.Discard())
	l.now = now
	return l
}

func TestTick_EveningClosesDoor(t *testing.T) {
	d := &fakeDoor{}
	l := newTestLoop(fakeLight{level: 50}, d, at(19, 0))

	decision, err := l.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Close, decision)

	opens, closes := d.counts()
	assert.Equal(t, 0, opens)
	assert.Equal(t, 1, closes)
}

func TestTick_MorningOpensDoor(t *testing.T) {
	d := &fakeDoor{}
	l := newTestLoop(fakeLight{level: 50}, d, at(7, 0))

	decision, err := l.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Open, decision)

	opens, closes := d.counts()
	assert.Equal(t, 1, opens)
	assert.Equal(t, 0, closes)
}

func TestTick_BeforeDawnDoesNothing(t *testing.T) {
	d := &fakeDoor{}
	l := newTestLoop(fakeLight{level: 50}, d, at(5, 0))

	var report TickReport
	l.SetOnTick(func(r TickReport) { report = r })

	decision, err := l.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, NoAction, decision)
	assert.False(t, report.Requested)

	opens, closes := d.counts()
	assert.Zero(t, opens+closes)
}

func TestTick_SensorFailureSkips(t *testing.T) {
	d := &fakeDoor{}
	l := newTestLoop(fakeLight{err: sensor.ErrTransfer}, d, at(19, 0))

	var report TickReport
	l.SetOnTick(func(r TickReport) { report = r })

	decision, err := l.Tick(context.Background())
	assert.ErrorIs(t, err, sensor.ErrTransfer)
	assert.Equal(t, NoAction, decision)
	assert.NotEmpty(t, report.Err)

	opens, closes := d.counts()
	assert.Zero(t, opens+closes)
}

func TestTick_WithRealController(t *testing.T) {
	sim := door.NewSimulated(time.Millisecond)
	act := door.NewActuator(sim, door.Timing{SafetyDelay: time.Millisecond, CloseDuration: 5 * time.Millisecond, OpenTimeout: 20 * time.Millisecond}, logging.Discard())
	ctrl := door.NewController(act, door.AssumeOpen, logging.Discard())

	l := newTestLoop(fakeLight{level: 50}, ctrl, at(7, 0))
	_, err := l.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, door.Open, ctrl.State())

	// Repeated ticks with the same decision do not actuate again.
	var report TickReport
	l.SetOnTick(func(r TickReport) { report = r })
	_, err = l.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, door.AlreadyInState, report.Outcome)
	assert.Equal(t, 1, sim.Acquisitions())

	l.now = at(20, 0)
	_, err = l.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, door.Closed, ctrl.State())
}

func TestTick_UnconfirmedOpeningIsNotReopened(t *testing.T) {
	d := &fakeDoor{unconfirmed: true}
	l := newTestLoop(fakeLight{level: 50}, d, at(7, 0))

	var report TickReport
	l.SetOnTick(func(r TickReport) { report = r })

	decision, err := l.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Open, decision)
	assert.False(t, report.Requested)

	opens, _ := d.counts()
	assert.Zero(t, opens)

	// Closing is open-loop and still allowed.
	l.now = at(20, 0)
	_, err = l.Tick(context.Background())
	require.NoError(t, err)
	_, closes := d.counts()
	assert.Equal(t, 1, closes)
}

func TestTick_BrokenLimitSwitchRunsMotorOnce(t *testing.T) {
	sim := door.NewSimulated(-1)
	act := door.NewActuator(sim, door.Timing{SafetyDelay: time.Millisecond, CloseDuration: 5 * time.Millisecond, OpenTimeout: 20 * time.Millisecond}, logging.Discard())
	ctrl := door.NewController(act, door.HoldOpening, logging.Discard())

	l := newTestLoop(fakeLight{level: 50}, ctrl, at(7, 0))
	_, err := l.Tick(context.Background())
	assert.ErrorIs(t, err, door.ErrLimitTimeout)
	assert.Equal(t, door.Opening, ctrl.State())
	require.True(t, ctrl.Unconfirmed())

	for i := 0; i < 3; i++ {
		_, err = l.Tick(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, sim.Acquisitions())
	assert.Equal(t, door.Opening, ctrl.State())

	l.now = at(20, 0)
	_, err = l.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, door.Closed, ctrl.State())
	assert.Equal(t, 2, sim.Acquisitions())
}

func TestTick_DoorErrorIsReturned(t *testing.T) {
	sim := door.NewSimulated(time.Millisecond)
	sim.SetAcquireError(errors.New("busy"))
	ctrl := door.NewController(door.NewActuator(sim, door.Timing{}, logging.Discard()), door.AssumeOpen, logging.Discard())

	l := newTestLoop(fakeLight{level: 50}, ctrl, at(7, 0))
	decision, err := l.Tick(context.Background())
	assert.Equal(t, Open, decision)
	assert.ErrorIs(t, err, door.ErrHardwareUnavailable)
	assert.Equal(t, door.Closed, ctrl.State())
}

func TestLoop_StartStop(t *testing.T) {
	d := &fakeDoor{}
	l := newTestLoop(fakeLight{level: 50}, d, at(7, 0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, l.Start(ctx))
	assert.Error(t, l.Start(ctx), "second start")

	assert.Eventually(t, func() bool {
		opens, _ := d.counts()
		return opens > 0
	}, 3*time.Second, 50*time.Millisecond)

	l.Stop()
	l.Stop()
}
