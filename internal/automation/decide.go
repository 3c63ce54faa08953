// Package automation decides, from the clock and the light level, whether
// the door should move, and runs that decision periodically.
package automation

import "coop-door-controller/internal/settings"

// Decision is the result of one evaluation.
type Decision int

const (
	NoAction Decision = iota
	Close
	Open
)

func (d Decision) String() string {
	switch d {
	case Close:
		return "close"
	case Open:
		return "open"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Decide closes when it is past the close time or dark enough, otherwise
// opens when it is past the open time or light enough. Close wins when
// both hold. There is no hysteresis: a level hovering at a threshold
// requests the same action every tick and the door controller absorbs
// the repeats.
func Decide(now settings.TimeOfDay, level float64, s settings.Settings) Decision {
	if now.Compare(s.Times.Close) >= 0 || level <= s.LightLevels.Close {
		return Close
	}
	if now.Compare(s.Times.Open) >= 0 || level >= s.LightLevels.Open {
		return Open
	}
	return NoAction
}
