package settings

import "errors"

var (
	// ErrDecode is returned when the settings file cannot be parsed.
	ErrDecode = errors.New("settings: decode failed")

	// ErrInvalidTime is returned for a time of day that is not HH:MM[:SS].
	ErrInvalidTime = errors.New("settings: invalid time of day")
)
