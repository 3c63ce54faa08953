package mqtt

import (
	"errors"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"coop-door-controller/internal/core"
	"coop-door-controller/internal/door"
	"coop-door-controller/internal/settings"
)

// ParseDoorCommand accepts OPEN and CLOSE in any case.
func ParseDoorCommand(payload []byte) (core.CommandType, bool) {
	switch strings.ToUpper(strings.TrimSpace(string(payload))) {
	case "OPEN":
		return core.CmdOpen, true
	case "CLOSE":
		return core.CmdClose, true
	default:
		return "", false
	}
}

func (c *Client) handleDoorSet(client mqtt.Client, msg mqtt.Message) {
	cmd, ok := ParseDoorCommand(msg.Payload())
	if !ok {
		c.log.Warn("ignoring door command", "payload", string(msg.Payload()))
		return
	}

	// The sequence takes seconds; don't hold up paho's router.
	go c.runDoorCommand(cmd)
}

func (c *Client) runDoorCommand(cmd core.CommandType) {
	var (
		outcome door.Outcome
		err     error
	)
	if cmd == core.CmdOpen {
		outcome, err = c.commands.Open(c.ctx)
	} else {
		outcome, err = c.commands.Close(c.ctx)
	}
	switch {
	case errors.Is(err, door.ErrLimitTimeout):
		c.log.Warn("door command finished without the limit switch", "command", cmd)
	case err != nil:
		c.log.Warn("door command failed", "command", cmd, "outcome", outcome, "error", err)
	default:
		c.log.Info("door command handled", "command", cmd, "outcome", outcome)
	}
}

func (c *Client) handleSettingsSet(client mqtt.Client, msg mqtt.Message) {
	next, err := settings.DecodeJSON(msg.Payload())
	if err != nil {
		c.log.Warn("ignoring settings", "error", err)
		return
	}
	if err := c.commands.WriteSettings(next); err != nil {
		c.log.Error("failed to write settings", "error", err)
	}
}
