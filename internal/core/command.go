package core

import (
	"context"

	"coop-door-controller/internal/door"
)

// CommandType defines the type of command being dispatched.
type CommandType string

const (
	CmdOpen  CommandType = "open"
	CmdClose CommandType = "close"
)

// CommandResult is the reply to a door command.
type CommandResult struct {
	Outcome door.Outcome
	Err     error
}

// Command is the envelope for door requests handed to the actuation
// worker. Reply is buffered so the worker never blocks on a caller that
// stopped waiting.
type Command struct {
	Type  CommandType
	Reply chan CommandResult
}

// NewCommand creates a command with a buffered reply channel.
func NewCommand(t CommandType) Command {
	return Command{Type: t, Reply: make(chan CommandResult, 1)}
}

// Wait blocks for the reply or until ctx is done. Giving up does not
// cancel the command.
func (c Command) Wait(ctx context.Context) (door.Outcome, error) {
	select {
	case res := <-c.Reply:
		return res.Outcome, res.Err
	case <-ctx.Done():
		return door.Skipped, ctx.Err()
	}
}

// CommandChannel is the single channel that the core Agent listens to for commands.
type CommandChannel chan Command
