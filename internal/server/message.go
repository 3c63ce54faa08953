package server

import "encoding/json"

// Outgoing message types.
const (
	MsgDoorState  = "door_state"
	MsgLightLevel = "light_level"
	MsgSettings   = "settings"
	MsgActuation  = "actuation"
	MsgStatus     = "status"
	MsgResult     = "result"
	MsgError      = "error"
)

// Command represents an incoming JSON command from a WebSocket client.
type Command struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message represents an outgoing JSON message sent to WebSocket clients.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
	Raw     []byte      `json:"-"` // Used for raw message handling if needed
}

// NewMessage creates a new structured Message for broadcasting to clients.
func NewMessage(msgType string, payload interface{}) Message {
	return Message{Type: msgType, Payload: payload}
}

// ErrorMessage wraps err for a client.
func ErrorMessage(command string, err error) Message {
	return NewMessage(MsgError, map[string]string{"command": command, "error": err.Error()})
}
