package telemetry

import "errors"

var (
	// ErrDisabled indicates the InfluxDB sink is disabled in the configuration.
	ErrDisabled = errors.New("telemetry: disabled in configuration")

	// ErrConnectionFailed indicates the initial ping failed.
	ErrConnectionFailed = errors.New("telemetry: connection failed")
)
