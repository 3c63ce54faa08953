// Package settings holds the automation settings (open/close times and
// light thresholds), their file format and the store that serves them to
// the automation loop and the command transports.
package settings

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

const secondsPerDay = 24 * 60 * 60

// TimeOfDay is a wall-clock time without a date, at second resolution.
type TimeOfDay struct {
	secs int32
}

// Clock builds a TimeOfDay from hour, minute and second. Out-of-range
// components wrap around midnight.
func Clock(hour, minute, second int) TimeOfDay {
	secs := (hour*3600 + minute*60 + second) % secondsPerDay
	if secs < 0 {
		secs += secondsPerDay
	}
	return TimeOfDay{secs: int32(secs)}
}

// Of returns the local wall-clock time of t.
func Of(t time.Time) TimeOfDay {
	return Clock(t.Hour(), t.Minute(), t.Second())
}

// ParseTimeOfDay accepts "HH:MM:SS" and "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return Of(t), nil
		}
	}
	return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
}

// Hour, Minute and Second return the clock components.
func (t TimeOfDay) Hour() int   { return int(t.secs) / 3600 }
func (t TimeOfDay) Minute() int { return int(t.secs) % 3600 / 60 }
func (t TimeOfDay) Second() int { return int(t.secs) % 60 }

// Compare returns -1, 0 or +1 as t is before, equal to or after o.
func (t TimeOfDay) Compare(o TimeOfDay) int {
	switch {
	case t.secs < o.secs:
		return -1
	case t.secs > o.secs:
		return 1
	default:
		return 0
	}
}

// String formats as HH:MM:SS.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour(), t.Minute(), t.Second())
}

// MarshalText implements encoding.TextMarshaler (JSON transports).
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TimeOfDay) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeOfDay(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalYAML writes the time as a quoted "HH:MM:SS" scalar.
func (t TimeOfDay) MarshalYAML() (interface{}, error) {
	return &yaml.Node{Kind: yaml.ScalarNode, Style: yaml.DoubleQuotedStyle, Value: t.String()}, nil
}

// UnmarshalYAML reads an "HH:MM:SS" scalar.
func (t *TimeOfDay) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: line %d: expected a scalar", ErrInvalidTime, value.Line)
	}
	return t.UnmarshalText([]byte(value.Value))
}

// LightLevels are the percent thresholds for light-driven automation.
type LightLevels struct {
	Open  float64 `json:"open" yaml:"open"`
	Close float64 `json:"close" yaml:"close"`
}

// Times are the daily open and close boundaries.
type Times struct {
	Open  TimeOfDay `json:"open" yaml:"open"`
	Close TimeOfDay `json:"close" yaml:"close"`
}

// Settings is the full automation configuration. It is always replaced as
// a whole.
type Settings struct {
	LightLevels LightLevels `json:"light_levels" yaml:"light_levels"`
	Times       Times       `json:"times" yaml:"times"`
}

// Default returns open 06:00, close 18:00 and thresholds that keep light
// automation inert (open at 100%, close at 0%).
func Default() Settings {
	return Settings{
		LightLevels: LightLevels{Open: 100.0, Close: 0.0},
		Times:       Times{Open: Clock(6, 0, 0), Close: Clock(18, 0, 0)},
	}
}
