package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"coop-door-controller/internal/automation"
	"coop-door-controller/internal/config"
	"coop-door-controller/internal/core"
	"coop-door-controller/internal/door"
	"coop-door-controller/internal/journal"
	"coop-door-controller/internal/logging"
	"coop-door-controller/internal/metrics"
	"coop-door-controller/internal/mqtt"
	"coop-door-controller/internal/sensor"
	"coop-door-controller/internal/server"
	"coop-door-controller/internal/settings"
	"coop-door-controller/internal/telemetry"
)

const (
	// simulatedLimitDelay is how long the simulated door takes to reach
	// the open limit switch.
	simulatedLimitDelay = 2 * time.Second

	shutdownTimeout = 10 * time.Second

	// journalTimeout bounds one journal write. It is not tied to the
	// agent context so a sequence cancelled by shutdown is still recorded.
	journalTimeout = 5 * time.Second
)

// ErrShuttingDown is returned for commands submitted after shutdown began.
var ErrShuttingDown = errors.New("agent is shutting down")

// Threshold names accepted by UseCurrentLightAs.
const (
	ThresholdOpen  = "open"
	ThresholdClose = "close"
)

// lightReaderFunc adapts a function to automation.LightReader.
type lightReaderFunc func() (float64, error)

func (f lightReaderFunc) ReadLevel() (float64, error) { return f() }

type lightReading struct {
	Level float64
	Err   error
	At    time.Time
}

type Agent struct {
	ctx    context.Context
	cancel context.CancelFunc
	config *config.Config
	log    *logging.Logger
	wg     sync.WaitGroup

	status         *core.StatusTracker
	eventBus       *core.EventBus
	commandChannel core.CommandChannel

	settings   *settings.Store
	light      *sensor.LightSensor
	controller *door.Controller
	loop       *automation.Loop
	metrics    *metrics.Metrics
	telemetry  *telemetry.Client
	journal    *journal.Journal
	server     *server.Server
	mqttClient *mqtt.Client
}

// NewAgent builds the agent with the hardware selected by
// cfg.Hardware.Mode.
func NewAgent(cfg *config.Config, log *logging.Logger) (*Agent, error) {
	var (
		hw    door.Hardware
		light sensor.Opener
	)
	switch cfg.Hardware.Mode {
	case "simulated":
		log.Warn("running with simulated hardware")
		hw = door.NewSimulated(simulatedLimitDelay)
		light = sensor.NewFixed(cfg.Hardware.SimulatedLightSample).Opener()
	default:
		hw = door.NewGPIO(cfg.Hardware.GPIOChip, door.Pins{
			Limit:     cfg.Hardware.Limit(),
			Direction: cfg.Hardware.Direction(),
			Enable:    cfg.Hardware.Enable(),
		}, cfg.Door.LimitDebounceDuration())
		light = sensor.SPIBus(cfg.Hardware.SPIPort, cfg.Hardware.SPISpeedHz)
	}
	return newAgent(cfg, log, hw, light)
}

func newAgent(cfg *config.Config, log *logging.Logger, hw door.Hardware, light sensor.Opener) (*Agent, error) {
	ctx, cancel := context.WithCancel(context.Background())

	a := &Agent{
		ctx:            ctx,
		cancel:         cancel,
		config:         cfg,
		log:            log.With("component", "agent"),
		status:         core.NewStatusTracker(cfg.AutomationEnabled()),
		eventBus:       core.NewEventBus(),
		commandChannel: make(core.CommandChannel, 20),
		metrics:        metrics.New(),
	}

	// Settings
	a.settings = settings.NewStore(cfg.SettingsFile, log)
	if _, err := a.settings.LoadOrDefault(); err != nil {
		a.log.Error("failed to load settings, using defaults", "path", cfg.SettingsFile, "error", err)
	}
	a.settings.SetOnChange(func(s settings.Settings) {
		a.eventBus.Publish(core.Event{Type: core.SettingsChangedEvent, Payload: s})
	})
	a.settings.SetOnReload(a.metrics.ObserveReload)

	// Door
	timing := door.Timing{
		SafetyDelay:   cfg.Door.SafetyDelayDuration(),
		CloseDuration: cfg.Door.CloseDurationValue(),
		OpenTimeout:   cfg.Door.OpenTimeoutDuration(),
	}
	actuator := door.NewActuator(hw, timing, log)
	a.controller = door.NewController(actuator, door.OpenTimeoutPolicy(cfg.Door.OpenTimeoutPolicy), log)
	a.controller.SetOnStateChange(func(s door.State) {
		a.eventBus.Publish(core.Event{Type: core.DoorStateChangedEvent, Payload: s})
	})
	a.controller.SetOnReport(func(r door.Report) {
		a.record(r)
		a.eventBus.Publish(core.Event{Type: core.ActuationEvent, Payload: r})
	})

	// Light sensor and automation. The loop reads through the agent so
	// every reading is published.
	a.light = sensor.New(light, log)
	a.loop = automation.NewLoop(lightReaderFunc(a.ReadLightLevel), a.settings, a.controller, cfg.AutomationInterval(), log)
	a.loop.SetOnTick(func(r automation.TickReport) {
		a.eventBus.Publish(core.Event{Type: core.AutomationTickEvent, Payload: r})
	})

	// Optional sinks
	tc, err := telemetry.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, telemetry.ErrDisabled):
	case err != nil:
		a.log.Warn("influxdb unavailable, telemetry disabled", "error", err)
	default:
		tc.SetOnError(func(err error) {
			a.log.Warn("influxdb write failed", "error", err)
		})
		a.telemetry = tc
	}

	j, err := journal.Open(cfg.JournalFile)
	switch {
	case errors.Is(err, journal.ErrDisabled):
	case err != nil:
		cancel()
		if a.telemetry != nil {
			_ = a.telemetry.Close()
		}
		return nil, fmt.Errorf("open journal: %w", err)
	default:
		a.journal = j
	}

	// Transports
	a.server = server.NewServer(cfg.Server, a, a.metrics.Handler(), log)
	a.server.SetHandler(NewCommandHandler(a, a.server.AllowCommand, log))

	a.mqttClient = mqtt.NewClient(ctx, cfg.MQTT, a, log)

	a.status.SetDoor(a.controller.State(), false, false)
	a.metrics.SetDoorState(a.controller.State())

	return a, nil
}

// Run starts the background services and processes commands until
// Shutdown.
func (a *Agent) Run() {
	// Subscribe before anything can publish.
	events := a.eventBus.Subscribe(core.AllEvents...)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.listenEvents(events)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.server.Hub.Run(a.ctx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.settings.Watch(a.ctx); err != nil {
			a.log.Error("settings watcher stopped", "error", err)
		}
	}()

	if a.mqttClient != nil {
		go func() {
			if err := a.mqttClient.Connect(); err != nil {
				a.log.Error("mqtt setup error", "error", err)
			}
		}()
	}

	if a.config.AutomationEnabled() {
		if err := a.loop.Start(a.ctx); err != nil {
			a.log.Error("failed to start automation", "error", err)
		}
	} else {
		a.log.Info("automation disabled, manual control only")
	}

	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server error", "error", err)
		}
	}()

	// Orchestrator central command loop
	a.log.Info("agent ready", "port", a.config.Server.Port)
	for {
		select {
		case <-a.ctx.Done():
			a.log.Info("agent shutting down")
			a.rejectPending()
			return
		case cmd := <-a.commandChannel:
			if a.ctx.Err() != nil {
				cmd.Reply <- core.CommandResult{Outcome: door.Skipped, Err: ErrShuttingDown}
				continue
			}
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				a.handleCommand(cmd)
			}()
		}
	}
}

// rejectPending answers commands that were queued but never started.
func (a *Agent) rejectPending() {
	for {
		select {
		case cmd := <-a.commandChannel:
			cmd.Reply <- core.CommandResult{Outcome: door.Skipped, Err: ErrShuttingDown}
		default:
			return
		}
	}
}

// handleCommand runs the door request under the agent's context, so a
// caller that stops waiting does not abort motion.
func (a *Agent) handleCommand(cmd core.Command) {
	a.log.Debug("handling command", "command", cmd.Type)

	var res core.CommandResult
	switch cmd.Type {
	case core.CmdOpen:
		res.Outcome, res.Err = a.controller.RequestOpen(a.ctx)
	case core.CmdClose:
		res.Outcome, res.Err = a.controller.RequestClose(a.ctx)
	default:
		res.Outcome, res.Err = door.Skipped, fmt.Errorf("unknown command type: %s", cmd.Type)
	}
	cmd.Reply <- res
}

func (a *Agent) listenEvents(events core.Subscriber) {
	for {
		select {
		case <-a.ctx.Done():
			return
		case event := <-events:
			a.dispatch(event)
		}
	}
}

// record journals a report before it is published. It runs on the
// requesting goroutine, which Shutdown waits for before closing the journal.
func (a *Agent) record(r door.Report) {
	if a.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := a.journal.Record(ctx, r); err != nil {
		a.log.Warn("failed to journal actuation", "id", r.ID, "error", err)
	}
}

func (a *Agent) dispatch(event core.Event) {
	switch payload := event.Payload.(type) {
	case door.State:
		a.status.SetDoor(payload, a.controller.Unconfirmed(), a.controller.Poisoned())
		a.metrics.SetDoorState(payload)
		a.server.Hub.Broadcast(server.NewMessage(server.MsgDoorState, map[string]interface{}{
			"state":       payload,
			"unconfirmed": a.controller.Unconfirmed(),
		}))
		if a.mqttClient != nil {
			a.mqttClient.PublishDoorState(payload)
		}
		if a.telemetry != nil {
			a.telemetry.WriteDoorState(payload, time.Now())
		}

	case door.Report:
		a.status.SetReport(payload)
		a.status.SetDoor(a.controller.State(), a.controller.Unconfirmed(), a.controller.Poisoned())
		a.metrics.ObserveReport(payload)
		a.metrics.SetPoisoned(a.controller.Poisoned())
		a.server.Hub.Broadcast(server.NewMessage(server.MsgActuation, payload))
		if a.telemetry != nil {
			a.telemetry.WriteActuation(payload)
		}

	case lightReading:
		a.status.SetLight(payload.Level, payload.Err, payload.At)
		a.metrics.ObserveLight(payload.Level, payload.Err)
		if payload.Err != nil {
			return
		}
		a.server.Hub.Broadcast(server.NewMessage(server.MsgLightLevel, map[string]interface{}{
			"level": payload.Level,
			"at":    payload.At,
		}))
		if a.mqttClient != nil {
			a.mqttClient.PublishLightLevel(payload.Level)
		}
		if a.telemetry != nil {
			a.telemetry.WriteLightLevel(payload.Level, payload.At)
		}

	case settings.Settings:
		a.log.Info("settings changed", "settings", payload)
		a.server.Hub.Broadcast(server.NewMessage(server.MsgSettings, payload))
		if a.mqttClient != nil {
			a.mqttClient.PublishSettings(payload)
		}

	case automation.TickReport:
		a.status.SetTick(payload)
		a.metrics.ObserveTick(payload)
		if a.telemetry != nil {
			a.telemetry.WriteTick(payload)
		}

	default:
		a.log.Warn("unhandled event", "type", event.Type)
	}
}

func (a *Agent) submit(ctx context.Context, t core.CommandType) (door.Outcome, error) {
	if a.ctx.Err() != nil {
		return door.Skipped, ErrShuttingDown
	}
	cmd := core.NewCommand(t)
	select {
	case a.commandChannel <- cmd:
	case <-ctx.Done():
		return door.Skipped, ctx.Err()
	case <-a.ctx.Done():
		return door.Skipped, ErrShuttingDown
	}
	return cmd.Wait(ctx)
}

// Open requests the door to open and waits for the outcome.
func (a *Agent) Open(ctx context.Context) (door.Outcome, error) {
	return a.submit(ctx, core.CmdOpen)
}

// Close requests the door to close and waits for the outcome.
func (a *Agent) Close(ctx context.Context) (door.Outcome, error) {
	return a.submit(ctx, core.CmdClose)
}

// GetSettings returns the current settings.
func (a *Agent) GetSettings() settings.Settings {
	return a.settings.Get()
}

// WriteSettings persists s and makes it current.
func (a *Agent) WriteSettings(s settings.Settings) error {
	return a.settings.Write(s)
}

// ReadLightLevel samples the sensor and publishes the result.
func (a *Agent) ReadLightLevel() (float64, error) {
	level, err := a.light.ReadLevel()
	a.eventBus.Publish(core.Event{
		Type:    core.LightLevelEvent,
		Payload: lightReading{Level: level, Err: err, At: time.Now()},
	})
	return level, err
}

// UseCurrentLightAs reads the sensor and stores the reading as the open or
// close threshold.
func (a *Agent) UseCurrentLightAs(ctx context.Context, which string) (settings.Settings, error) {
	if err := ctx.Err(); err != nil {
		return settings.Settings{}, err
	}

	s := a.settings.Get()
	if which != ThresholdOpen && which != ThresholdClose {
		return s, fmt.Errorf("%w: unknown threshold %q", settings.ErrDecode, which)
	}

	level, err := a.ReadLightLevel()
	if err != nil {
		return s, err
	}

	if which == ThresholdOpen {
		s.LightLevels.Open = level
	} else {
		s.LightLevels.Close = level
	}
	if err := a.settings.Write(s); err != nil {
		return a.settings.Get(), err
	}
	a.log.Info("light threshold calibrated", "threshold", which, "level", level)
	return s, nil
}

// Status returns the latest observations with the live door state.
func (a *Agent) Status() core.Status {
	st := a.status.Snapshot()
	st.Door = a.controller.State()
	st.Unconfirmed = a.controller.Unconfirmed()
	st.Poisoned = a.controller.Poisoned()
	return st
}

// History returns the n most recent actuations, newest first.
func (a *Agent) History(ctx context.Context, n int) ([]door.Report, error) {
	if a.journal == nil {
		return nil, journal.ErrDisabled
	}
	return a.journal.Recent(ctx, n)
}

// Shutdown cancels any running sequence, stops the services and waits for
// the outputs to be released.
func (a *Agent) Shutdown() {
	a.cancel()
	a.loop.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		a.log.Warn("server shutdown", "error", err)
	}

	if a.mqttClient != nil {
		a.mqttClient.Disconnect()
	}

	a.wg.Wait()

	if a.telemetry != nil {
		_ = a.telemetry.Close()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Warn("failed to close journal", "error", err)
		}
	}
}
