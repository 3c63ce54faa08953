package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"coop-door-controller/internal/door"
	"coop-door-controller/internal/logging"
	"coop-door-controller/internal/settings"
)

// LightReader reads the current light level in percent.
type LightReader interface {
	ReadLevel() (float64, error)
}

// SettingsSource returns a snapshot of the automation settings.
type SettingsSource interface {
	Get() settings.Settings
}

// Door accepts open and close requests. Unconfirmed reports an opening
// whose limit switch never fired.
type Door interface {
	RequestOpen(ctx context.Context) (door.Outcome, error)
	RequestClose(ctx context.Context) (door.Outcome, error)
	Unconfirmed() bool
}

// TickReport describes one evaluation.
type TickReport struct {
	Time      time.Time         `json:"time"`
	Level     float64           `json:"level"`
	Settings  settings.Settings `json:"settings"`
	Decision  Decision          `json:"decision"`
	Requested bool              `json:"requested"`
	Outcome   door.Outcome      `json:"outcome"`
	Err       string            `json:"error,omitempty"`
}

// Loop evaluates the decision on a fixed interval and issues door requests.
type Loop struct {
	light    LightReader
	settings SettingsSource
	door     Door
	interval time.Duration
	log      *logging.Logger

	// now is replaced in tests.
	now func() time.Time

	mu     sync.Mutex
	cron   *cron.Cron
	onTick func(TickReport)
}

// NewLoop creates a loop that ticks every interval once started.
func NewLoop(light LightReader, src SettingsSource, d Door, interval time.Duration, log *logging.Logger) *Loop {
	return &Loop{
		light:    light,
		settings: src,
		door:     d,
		interval: interval,
		log:      log.With("component", "automation"),
		now:      time.Now,
	}
}

// SetOnTick registers the observer for tick reports.
func (l *Loop) SetOnTick(fn func(TickReport)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onTick = fn
}

// Tick runs one evaluation. A failed light reading skips the tick and is
// returned without a decision.
func (l *Loop) Tick(ctx context.Context) (Decision, error) {
	report := TickReport{Time: l.now()}

	level, err := l.light.ReadLevel()
	if err != nil {
		l.log.Warn("light read failed, skipping tick", "error", err)
		report.Err = err.Error()
		l.emit(report)
		return NoAction, fmt.Errorf("read light level: %w", err)
	}

	s := l.settings.Get()
	decision := Decide(settings.Of(report.Time), level, s)
	report.Level = level
	report.Settings = s
	report.Decision = decision
	l.log.Debug("automation tick", "level", level, "time", settings.Of(report.Time), "decision", decision)

	var outcome door.Outcome
	switch decision {
	case Close:
		outcome, err = l.door.RequestClose(ctx)
	case Open:
		// Rerunning the open sequence against a dead limit switch would
		// drive the motor every tick. Leave it to a manual command.
		if l.door.Unconfirmed() {
			l.log.Warn("open not confirmed by the limit switch, skipping automated open")
			l.emit(report)
			return decision, nil
		}
		outcome, err = l.door.RequestOpen(ctx)
	default:
		l.emit(report)
		return decision, nil
	}

	report.Requested = true
	report.Outcome = outcome
	if err != nil {
		report.Err = err.Error()
		l.log.Warn("automated door request failed", "decision", decision, "outcome", outcome, "error", err)
	} else if outcome == door.Actuated {
		l.log.Info("automated door request", "decision", decision, "level", level)
	}
	l.emit(report)
	return decision, err
}

// Start schedules Tick every interval until Stop. A tick still running
// when the next one is due causes that one to be skipped.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cron != nil {
		return fmt.Errorf("automation loop already started")
	}

	cronLog := l.log.ForCron()
	c := cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)), cron.WithLogger(cronLog))
	spec := fmt.Sprintf("@every %s", l.interval)
	if _, err := c.AddFunc(spec, func() { _, _ = l.Tick(ctx) }); err != nil {
		return fmt.Errorf("schedule automation '%s': %w", spec, err)
	}

	c.Start()
	l.cron = c
	l.log.Info("automation loop started", "interval", l.interval)
	return nil
}

// Stop halts the schedule and waits for a running tick to return.
func (l *Loop) Stop() {
	l.mu.Lock()
	c := l.cron
	l.cron = nil
	l.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	l.log.Info("automation loop stopped")
}

func (l *Loop) emit(r TickReport) {
	l.mu.Lock()
	onTick := l.onTick
	l.mu.Unlock()
	if onTick != nil {
		onTick(r)
	}
}
