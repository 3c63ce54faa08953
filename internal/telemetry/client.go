// Package telemetry writes door, light and automation history to InfluxDB.
//
// Writes are non-blocking and batched by the InfluxDB client; failures are
// reported asynchronously through the SetOnError callback.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"coop-door-controller/internal/automation"
	"coop-door-controller/internal/config"
	"coop-door-controller/internal/door"
)

const (
	connectTimeout        = 10 * time.Second
	defaultBatchSize      = 100
	defaultFlushInterval  = 10 // seconds
	millisecondsPerSecond = 1000
)

// Client is a connected InfluxDB writer.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	mu        sync.RWMutex
	connected bool
	onError   func(error)
}

// Connect pings the server and prepares the batched write API. It returns
// ErrDisabled when the sink is turned off.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := &Client{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		connected: true,
	}
	go c.handleWriteErrors(c.writeAPI.Errors())
	return c, nil
}

func (c *Client) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()
		if callback != nil {
			callback(err)
		}
	}
}

// SetOnError registers the callback for asynchronous write failures.
func (c *Client) SetOnError(callback func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// IsConnected reports whether Close has not been called yet.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// WriteActuation records one door sequence.
func (c *Client) WriteActuation(r door.Report) {
	fields := map[string]interface{}{
		"duration_ms":   r.Duration.Milliseconds(),
		"limit_reached": r.LimitReached,
		"run_id":        r.ID.String(),
	}
	if r.Err != "" {
		fields["error"] = r.Err
	}
	c.write(write.NewPoint(
		"door_actuation",
		map[string]string{
			"action":  string(r.Action),
			"outcome": r.Outcome.String(),
			"from":    r.From.String(),
			"to":      r.To.String(),
		},
		fields,
		r.Started,
	))
}

// WriteDoorState records a door state change.
func (c *Client) WriteDoorState(state door.State, at time.Time) {
	c.write(write.NewPoint(
		"door_state",
		map[string]string{"state": state.String()},
		map[string]interface{}{"value": int(state)},
		at,
	))
}

// WriteLightLevel records a light reading.
func (c *Client) WriteLightLevel(level float64, at time.Time) {
	c.write(write.NewPoint(
		"light_level",
		nil,
		map[string]interface{}{"percent": level},
		at,
	))
}

// WriteTick records one automation evaluation.
func (c *Client) WriteTick(r automation.TickReport) {
	fields := map[string]interface{}{
		"level":     r.Level,
		"requested": r.Requested,
	}
	if r.Err != "" {
		fields["error"] = r.Err
	}
	c.write(write.NewPoint(
		"automation_tick",
		map[string]string{"decision": r.Decision.String()},
		fields,
		r.Time,
	))
}

func (c *Client) write(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

// Flush sends all buffered points.
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}

// Close flushes pending writes and closes the client.
func (c *Client) Close() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close()
	return nil
}
