package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coop-door-controller/internal/automation"
	"coop-door-controller/internal/door"
)

func TestStatusTracker_Light(t *testing.T) {
	tr := NewStatusTracker(true)
	now := time.Now()

	tr.SetLight(55.5, nil, now)
	s := tr.Snapshot()
	require.NotNil(t, s.LightLevel)
	assert.Equal(t, 55.5, *s.LightLevel)
	assert.Empty(t, s.LightError)

	// A failed read keeps the last good level.
	tr.SetLight(0, errors.New("spi timeout"), now.Add(time.Second))
	s = tr.Snapshot()
	assert.Equal(t, 55.5, *s.LightLevel)
	assert.Equal(t, "spi timeout", s.LightError)
	assert.True(t, s.Automation)
}

func TestStatusTracker_Tick(t *testing.T) {
	tr := NewStatusTracker(true)

	tr.SetTick(automation.TickReport{Time: time.Now(), Decision: automation.Close, Requested: true})
	require.NotNil(t, tr.Snapshot().LastDecision)
	assert.Equal(t, automation.Close, *tr.Snapshot().LastDecision)

	tr.SetTick(automation.TickReport{Time: time.Now(), Err: "bus unavailable"})
	assert.Equal(t, automation.Close, *tr.Snapshot().LastDecision)
}

func TestStatusTracker_DoorAndReport(t *testing.T) {
	tr := NewStatusTracker(false)
	tr.SetDoor(door.Opening, true, false)
	tr.SetReport(door.Report{Action: door.ActionOpen, Outcome: door.Actuated})

	s := tr.Snapshot()
	assert.Equal(t, door.Opening, s.Door)
	assert.True(t, s.Unconfirmed)
	require.NotNil(t, s.LastReport)
	assert.Equal(t, door.ActionOpen, s.LastReport.Action)
	assert.False(t, s.Automation)
}

func TestCommand_WaitHonoursContext(t *testing.T) {
	cmd := NewCommand(CmdOpen)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcome, err := cmd.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, door.Skipped, outcome)

	// The worker can still reply without blocking.
	cmd.Reply <- CommandResult{Outcome: door.Actuated}
	outcome, err = cmd.Wait(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, door.Actuated, outcome)
}
