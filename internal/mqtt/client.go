package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"coop-door-controller/internal/config"
	"coop-door-controller/internal/core"
	"coop-door-controller/internal/door"
	"coop-door-controller/internal/logging"
	"coop-door-controller/internal/settings"
)

// Commands is the part of the agent surface reachable over MQTT.
type Commands interface {
	Open(ctx context.Context) (door.Outcome, error)
	Close(ctx context.Context) (door.Outcome, error)
	WriteSettings(s settings.Settings) error
	GetSettings() settings.Settings
	Status() core.Status
}

type Client struct {
	client   mqtt.Client
	cfg      config.MQTTConfig
	commands Commands
	ctx      context.Context
	log      *logging.Logger
	prefix   string
}

// NewClient creates the client, or returns nil when MQTT is disabled.
// Door commands received over MQTT run under ctx.
func NewClient(ctx context.Context, cfg config.MQTTConfig, commands Commands, log *logging.Logger) *Client {
	if !cfg.Enabled {
		return nil
	}

	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")

	c := &Client{
		cfg:      cfg,
		commands: commands,
		ctx:      ctx,
		log:      log.With("component", "mqtt"),
		prefix:   prefix,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)

	opts.SetKeepAlive(10 * time.Second)
	opts.SetPingTimeout(5 * time.Second)

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	// Keep retrying at startup so the agent comes up before the broker does.
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	opts.SetOrderMatters(false)

	opts.SetWill(c.topic("availability"), "offline", 1, true)

	opts.SetOnConnectHandler(c.onConnect)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		c.log.Warn("connection lost, retrying in background", "error", err)
	})

	opts.SetReconnectingHandler(func(client mqtt.Client, options *mqtt.ClientOptions) {
		c.log.Info("attempting to reconnect")
	})

	c.client = mqtt.NewClient(opts)

	return c
}

// Connect starts the connection loop.
func (c *Client) Connect() error {
	if c.client == nil {
		return nil
	}
	c.log.Info("connecting to broker", "broker", c.cfg.Broker)

	token := c.client.Connect()
	// With ConnectRetry an error here is a configuration problem, not an
	// unreachable broker.
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}

	return nil
}

// Disconnect publishes the offline status and closes the connection.
func (c *Client) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.log.Info("disconnecting")

		token := c.client.Publish(c.topic("availability"), 1, true, "offline")
		if token.WaitTimeout(2 * time.Second) {
			if token.Error() != nil {
				c.log.Warn("failed to publish offline status", "error", token.Error())
			}
		} else {
			c.log.Warn("timed out publishing offline status")
		}

		c.client.Disconnect(250)
		c.log.Info("disconnected")
	}
}

func (c *Client) topic(sub string) string {
	return fmt.Sprintf("%s/%s", c.prefix, sub)
}

// Publish sends payload to <prefix>/<subtopic> without blocking the caller.
func (c *Client) Publish(subtopic string, payload interface{}, retained bool) {
	if c.client == nil || !c.client.IsConnected() {
		return
	}

	topic := c.topic(subtopic)
	var msg interface{}
	switch p := payload.(type) {
	case []byte, string:
		msg = p
	default:
		msg = fmt.Sprintf("%v", p)
	}

	token := c.client.Publish(topic, 0, retained, msg)

	go func() {
		if token.WaitTimeout(5 * time.Second) {
			if token.Error() != nil {
				c.log.Warn("publish failed", "topic", topic, "error", token.Error())
			}
		} else {
			c.log.Warn("publish timed out", "topic", topic)
		}
	}()
}

// PublishDoorState publishes the retained door state. The values match
// Home Assistant's cover states.
func (c *Client) PublishDoorState(state door.State) {
	c.Publish("door/state", state.String(), true)
}

// PublishLightLevel publishes the retained light level in percent.
func (c *Client) PublishLightLevel(level float64) {
	c.Publish("light/level", strconv.FormatFloat(level, 'f', 1, 64), true)
}

// PublishSettings publishes the retained settings as JSON.
func (c *Client) PublishSettings(s settings.Settings) {
	data, err := json.Marshal(s)
	if err != nil {
		c.log.Warn("failed to encode settings", "error", err)
		return
	}
	c.Publish("settings/state", data, true)
}

// onConnect runs on paho's event goroutine.
func (c *Client) onConnect(client mqtt.Client) {
	c.log.Info("connected to broker")

	topics := map[string]mqtt.MessageHandler{
		"door/set":     c.handleDoorSet,
		"settings/set": c.handleSettingsSet,
	}

	for sub, handler := range topics {
		topic := c.topic(sub)
		if token := client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
			c.log.Error("subscribe failed", "topic", topic, "error", token.Error())
		} else {
			c.log.Info("subscribed", "topic", topic)
		}
	}

	// PublishHADiscovery sleeps; keep it off the event goroutine.
	go func() {
		c.Publish("availability", "online", true)
		c.PublishDoorState(c.commands.Status().Door)
		c.PublishSettings(c.commands.GetSettings())
		if c.cfg.HADiscoveryEnabled {
			c.PublishHADiscovery()
		}
	}()
}
