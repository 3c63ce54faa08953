package agent

import (
	"context"
	"encoding/json"
	"errors"

	"coop-door-controller/internal/door"
	"coop-door-controller/internal/logging"
	"coop-door-controller/internal/server"
	"coop-door-controller/internal/settings"
)

// WebSocket command types.
const (
	wsOpen           = "open"
	wsClose          = "close"
	wsGetSettings    = "getSettings"
	wsWriteSettings  = "writeSettings"
	wsReadLightLevel = "readLightLevel"
	wsSetLightOpen   = "setLightOpen"
	wsSetLightClose  = "setLightClose"
)

var errRateLimited = errors.New("too many door commands")

// CommandHandler serves WebSocket client commands against the agent.
type CommandHandler struct {
	commands server.Commands
	allow    func() bool
	log      *logging.Logger
}

// NewCommandHandler creates the handler. allow gates door commands and is
// shared with the HTTP API.
func NewCommandHandler(commands server.Commands, allow func() bool, log *logging.Logger) *CommandHandler {
	return &CommandHandler{
		commands: commands,
		allow:    allow,
		log:      log.With("component", "ws_commands"),
	}
}

// DoorReply is the result message for a door command.
type DoorReply struct {
	Command string       `json:"command"`
	Outcome door.Outcome `json:"outcome"`
	State   door.State   `json:"state"`
	Warning string       `json:"warning,omitempty"`
}

func (h *CommandHandler) Handle(ctx context.Context, msg server.Message, reply func(server.Message)) {
	var cmd server.Command
	if err := json.Unmarshal(msg.Raw, &cmd); err != nil {
		h.log.Warn("invalid websocket command", "error", err)
		reply(server.ErrorMessage("", err))
		return
	}

	switch cmd.Type {
	case wsOpen, wsClose:
		if !h.allow() {
			reply(server.ErrorMessage(cmd.Type, errRateLimited))
			return
		}
		request := h.commands.Open
		if cmd.Type == wsClose {
			request = h.commands.Close
		}
		// The sequence takes seconds; keep reading the connection meanwhile.
		go h.runDoor(ctx, cmd.Type, request, reply)

	case wsGetSettings:
		reply(server.NewMessage(server.MsgSettings, h.commands.GetSettings()))

	case wsWriteSettings:
		next, err := settings.DecodeJSON(cmd.Payload)
		if err != nil {
			reply(server.ErrorMessage(cmd.Type, err))
			return
		}
		if err := h.commands.WriteSettings(next); err != nil {
			h.log.Error("failed to write settings", "error", err)
			reply(server.ErrorMessage(cmd.Type, err))
			return
		}
		reply(server.NewMessage(server.MsgSettings, next))

	case wsReadLightLevel:
		level, err := h.commands.ReadLightLevel()
		if err != nil {
			reply(server.ErrorMessage(cmd.Type, err))
			return
		}
		reply(server.NewMessage(server.MsgLightLevel, map[string]float64{"level": level}))

	case wsSetLightOpen, wsSetLightClose:
		which := ThresholdOpen
		if cmd.Type == wsSetLightClose {
			which = ThresholdClose
		}
		s, err := h.commands.UseCurrentLightAs(ctx, which)
		if err != nil {
			reply(server.ErrorMessage(cmd.Type, err))
			return
		}
		reply(server.NewMessage(server.MsgSettings, s))

	default:
		h.log.Warn("unknown websocket command", "type", cmd.Type)
		reply(server.ErrorMessage(cmd.Type, errors.New("unknown command")))
	}
}

func (h *CommandHandler) runDoor(ctx context.Context, name string, request func(context.Context) (door.Outcome, error), reply func(server.Message)) {
	outcome, err := request(ctx)
	if err != nil && !errors.Is(err, door.ErrLimitTimeout) {
		h.log.Warn("door command failed", "command", name, "outcome", outcome, "error", err)
		reply(server.ErrorMessage(name, err))
		return
	}

	result := DoorReply{Command: name, Outcome: outcome, State: h.commands.Status().Door}
	if err != nil {
		result.Warning = err.Error()
	}
	reply(server.NewMessage(server.MsgResult, result))
}
