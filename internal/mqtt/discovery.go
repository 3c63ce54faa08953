package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PublishHADiscovery sends the Home Assistant discovery configuration for
// the door cover and the light sensor.
func (c *Client) PublishHADiscovery() {
	// Let the subscriptions settle first.
	time.Sleep(1 * time.Second)

	for topic, payload := range c.discoveryConfigs() {
		data, err := json.Marshal(payload)
		if err != nil {
			c.log.Warn("failed to encode discovery payload", "topic", topic, "error", err)
			continue
		}
		c.client.Publish(topic, 0, true, data)
		c.log.Info("home assistant discovery sent", "topic", topic)
	}
}

// discoveryConfigs returns discovery payloads keyed by their config topic.
func (c *Client) discoveryConfigs() map[string]map[string]interface{} {
	safeID := sanitizeID(c.cfg.ClientID)

	availability := []map[string]string{
		{
			"topic":                 c.topic("availability"),
			"payload_available":     "online",
			"payload_not_available": "offline",
		},
	}
	device := map[string]interface{}{
		"identifiers":  []string{safeID},
		"name":         "Coop Door",
		"manufacturer": "coopdoor",
		"model":        "Coop Door Agent",
	}

	cover := map[string]interface{}{
		"name":          "Door",
		"unique_id":     safeID + "_door",
		"object_id":     safeID + "_door",
		"device_class":  "door",
		"command_topic": c.topic("door/set"),
		"state_topic":   c.topic("door/state"),
		"payload_open":  "OPEN",
		"payload_close": "CLOSE",
		"payload_stop":  nil,
		"state_open":    "open",
		"state_opening": "opening",
		"state_closed":  "closed",
		"state_closing": "closing",
		"availability":  availability,
		"device":        device,
	}

	light := map[string]interface{}{
		"name":                "Light level",
		"unique_id":           safeID + "_light_level",
		"object_id":           safeID + "_light_level",
		"icon":                "mdi:white-balance-sunny",
		"state_topic":         c.topic("light/level"),
		"unit_of_measurement": "%",
		"state_class":         "measurement",
		"availability":        availability,
		"device":              device,
	}

	prefix := c.cfg.HADiscoveryPrefix
	return map[string]map[string]interface{}{
		fmt.Sprintf("%s/cover/%s/door/config", prefix, safeID):          cover,
		fmt.Sprintf("%s/sensor/%s/light_level/config", prefix, safeID): light,
	}
}

func sanitizeID(id string) string {
	id = strings.ReplaceAll(id, " ", "_")
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return -1
	}, id)
}
