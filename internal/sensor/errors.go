package sensor

import "errors"

var (
	// ErrBusUnavailable is returned when the bus cannot be opened or configured.
	ErrBusUnavailable = errors.New("sensor: bus unavailable")

	// ErrTransfer is returned when the full-duplex transfer fails.
	ErrTransfer = errors.New("sensor: transfer failed")
)
