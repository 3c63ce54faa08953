package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// ServerConfig holds the HTTP/WebSocket server settings.
type ServerConfig struct {
	Port           string   `json:"port"`
	WebFilesDir    string   `json:"web_files_dir"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimit      float64  `json:"command_rate_limit"`
	RateBurst      int      `json:"command_rate_burst"`
}

// HardwareConfig describes the physical wiring. Pin numbers are line
// offsets on the GPIO character device; nil means the stock line.
type HardwareConfig struct {
	Mode         string `json:"mode"` // "gpio" or "simulated"
	GPIOChip     string `json:"gpio_chip"`
	LimitPin     *int   `json:"limit_pin"`
	DirectionPin *int   `json:"direction_pin"`
	EnablePin    *int   `json:"enable_pin"`
	SPIPort      string `json:"spi_port"`
	SPISpeedHz   int64  `json:"spi_speed_hz"`

	// SimulatedLightSample is the raw ADC code returned in simulated mode.
	SimulatedLightSample uint32 `json:"simulated_light_sample"`
}

// DoorConfig holds the actuation timing contract.
type DoorConfig struct {
	SafetyDelay       string `json:"safety_delay"`
	CloseDuration     string `json:"close_duration"`
	OpenTimeout       string `json:"open_timeout"`
	LimitDebounce     string `json:"limit_debounce"`
	OpenTimeoutPolicy string `json:"open_timeout_policy"` // "assume_open" or "hold_opening"
}

// AutomationConfig controls the periodic decision loop.
type AutomationConfig struct {
	Enabled  *bool  `json:"enabled"`
	Interval string `json:"interval"`
}

// MQTTConfig holds MQTT and Home Assistant discovery settings.
type MQTTConfig struct {
	Enabled            bool   `json:"enabled"`
	Broker             string `json:"broker"` // tcp://IP:PORT
	Username           string `json:"username"`
	Password           string `json:"password"`
	ClientID           string `json:"client_id"`
	TopicPrefix        string `json:"topic_prefix"`
	HADiscoveryEnabled bool   `json:"ha_discovery_enabled"`
	HADiscoveryPrefix  string `json:"ha_discovery_prefix"`
}

// InfluxDBConfig holds the optional time-series sink settings.
type InfluxDBConfig struct {
	Enabled       bool   `json:"enabled"`
	URL           string `json:"url"`
	Token         string `json:"token"`
	Org           string `json:"org"`
	Bucket        string `json:"bucket"`
	BatchSize     int    `json:"batch_size"`
	FlushInterval int    `json:"flush_interval"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// Config is the root agent configuration.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Hardware   HardwareConfig   `json:"hardware"`
	Door       DoorConfig       `json:"door"`
	Automation AutomationConfig `json:"automation"`
	MQTT       MQTTConfig       `json:"mqtt"`
	InfluxDB   InfluxDBConfig   `json:"influxdb"`
	Logging    LoggingConfig    `json:"logging"`

	// File system settings
	SettingsFile string `json:"settings_file"`
	JournalFile  string `json:"journal_file"`
}

// Load reads the file, decodes the JSON and applies defaults, environment
// overrides and validation. A missing file yields the default configuration.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := &Config{}
			cfg.setDefaults()
			applyEnvOverrides(cfg)
			if err := cfg.validate(); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to open config file '%s': %w", path, err)
	}
	defer file.Close()

	cfg := &Config{}
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode json: %w", err)
	}

	cfg.sanitize()
	cfg.setDefaults()
	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) sanitize() {
	c.Server.Port = strings.TrimSpace(c.Server.Port)
	c.Server.WebFilesDir = strings.TrimSpace(c.Server.WebFilesDir)
	c.Hardware.Mode = strings.ToLower(strings.TrimSpace(c.Hardware.Mode))
	c.Hardware.GPIOChip = strings.TrimSpace(c.Hardware.GPIOChip)
	c.Hardware.SPIPort = strings.TrimSpace(c.Hardware.SPIPort)
	c.Door.OpenTimeoutPolicy = strings.ToLower(strings.TrimSpace(c.Door.OpenTimeoutPolicy))
	c.SettingsFile = strings.TrimSpace(c.SettingsFile)
	c.JournalFile = strings.TrimSpace(c.JournalFile)
}

func (c *Config) setDefaults() {
	// Server Defaults
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.WebFilesDir == "" {
		c.Server.WebFilesDir = "./web"
	}
	if c.Server.RateLimit <= 0 {
		c.Server.RateLimit = 1.0
	}
	if c.Server.RateBurst <= 0 {
		c.Server.RateBurst = 3
	}

	// Hardware Defaults (stock wiring)
	if c.Hardware.Mode == "" {
		c.Hardware.Mode = "gpio"
	}
	if c.Hardware.GPIOChip == "" {
		c.Hardware.GPIOChip = "gpiochip0"
	}
	if c.Hardware.LimitPin == nil {
		c.Hardware.LimitPin = intPtr(24)
	}
	if c.Hardware.DirectionPin == nil {
		c.Hardware.DirectionPin = intPtr(5)
	}
	if c.Hardware.EnablePin == nil {
		c.Hardware.EnablePin = intPtr(6)
	}
	if c.Hardware.SPIPort == "" {
		c.Hardware.SPIPort = "SPI0.0"
	}
	if c.Hardware.SPISpeedHz <= 0 {
		c.Hardware.SPISpeedHz = 1_000_000
	}
	if c.Hardware.SimulatedLightSample == 0 {
		c.Hardware.SimulatedLightSample = 2048
	}

	// Door timing Defaults
	if c.Door.SafetyDelay == "" {
		c.Door.SafetyDelay = "250ms"
	}
	if c.Door.CloseDuration == "" {
		c.Door.CloseDuration = "5s"
	}
	if c.Door.OpenTimeout == "" {
		c.Door.OpenTimeout = "6s"
	}
	if c.Door.LimitDebounce == "" {
		c.Door.LimitDebounce = "10ms"
	}
	if c.Door.OpenTimeoutPolicy == "" {
		c.Door.OpenTimeoutPolicy = "assume_open"
	}

	// Automation Defaults
	if c.Automation.Enabled == nil {
		enabled := true
		c.Automation.Enabled = &enabled
	}
	if c.Automation.Interval == "" {
		c.Automation.Interval = "5s"
	}

	// File Defaults
	if c.SettingsFile == "" {
		c.SettingsFile = "settings.yaml"
	}

	// MQTT Defaults
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "tcp://localhost:1883"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "coop-door"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "coopdoor"
	}
	if c.MQTT.HADiscoveryPrefix == "" {
		c.MQTT.HADiscoveryPrefix = "homeassistant"
	}

	// Logging Defaults
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// applyEnvOverrides lets secrets and deployment paths stay out of the file.
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("COOPDOOR_MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv("COOPDOOR_INFLUXDB_TOKEN"); v != "" {
		c.InfluxDB.Token = v
	}
	if v := os.Getenv("COOPDOOR_SETTINGS_FILE"); v != "" {
		c.SettingsFile = v
	}
}

func (c *Config) validate() error {
	var errs []string

	switch c.Hardware.Mode {
	case "gpio", "simulated":
	default:
		errs = append(errs, fmt.Sprintf("hardware.mode must be 'gpio' or 'simulated', got '%s'", c.Hardware.Mode))
	}

	pins := map[int]string{}
	for name, pin := range map[string]int{
		"limit_pin":     c.Hardware.Limit(),
		"direction_pin": c.Hardware.Direction(),
		"enable_pin":    c.Hardware.Enable(),
	} {
		if pin < 0 {
			errs = append(errs, fmt.Sprintf("hardware.%s must not be negative", name))
			continue
		}
		if other, ok := pins[pin]; ok {
			errs = append(errs, fmt.Sprintf("hardware.%s and hardware.%s share line %d", other, name, pin))
		}
		pins[pin] = name
	}

	durations := map[string]string{
		"door.safety_delay":   c.Door.SafetyDelay,
		"door.close_duration": c.Door.CloseDuration,
		"door.open_timeout":   c.Door.OpenTimeout,
		"door.limit_debounce": c.Door.LimitDebounce,
		"automation.interval": c.Automation.Interval,
	}
	for name, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		if d < 0 {
			errs = append(errs, fmt.Sprintf("%s must not be negative", name))
		}
	}

	switch c.Door.OpenTimeoutPolicy {
	case "assume_open", "hold_opening":
	default:
		errs = append(errs, fmt.Sprintf("door.open_timeout_policy must be 'assume_open' or 'hold_opening', got '%s'", c.Door.OpenTimeoutPolicy))
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config error: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Limit returns the limit switch line.
func (h HardwareConfig) Limit() int { return derefPin(h.LimitPin) }

// Direction returns the motor direction line.
func (h HardwareConfig) Direction() int { return derefPin(h.DirectionPin) }

// Enable returns the motor enable line.
func (h HardwareConfig) Enable() int { return derefPin(h.EnablePin) }

func derefPin(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}

func intPtr(v int) *int { return &v }

// AutomationEnabled reports whether the decision loop should run.
func (c *Config) AutomationEnabled() bool {
	return c.Automation.Enabled == nil || *c.Automation.Enabled
}

// AutomationInterval returns the parsed loop period.
func (c *Config) AutomationInterval() time.Duration {
	return mustDuration(c.Automation.Interval)
}

// SafetyDelayDuration returns the parsed pause between de-energizing and reversing.
func (d DoorConfig) SafetyDelayDuration() time.Duration { return mustDuration(d.SafetyDelay) }

// CloseDurationValue returns the parsed open-loop close time.
func (d DoorConfig) CloseDurationValue() time.Duration { return mustDuration(d.CloseDuration) }

// OpenTimeoutDuration returns the parsed limit switch wait.
func (d DoorConfig) OpenTimeoutDuration() time.Duration { return mustDuration(d.OpenTimeout) }

// LimitDebounceDuration returns the parsed limit switch debounce period.
func (d DoorConfig) LimitDebounceDuration() time.Duration { return mustDuration(d.LimitDebounce) }

// mustDuration is only used on values that passed validate.
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
