// Package sensor reads the ambient light level from the ADC on the SPI bus.
package sensor

import (
	"fmt"

	"coop-door-controller/internal/logging"
)

// frameSize is the length of one full-duplex exchange with the ADC.
const frameSize = 5

// fullScale is the ADC code that maps to 0% light.
const fullScale = 4096.0

// command selects the light channel on the ADC.
var command = [frameSize]byte{0x06, 0x00, 0x00}

// Conn is an open bus connection.
type Conn interface {
	Tx(w, r []byte) error
	Close() error
}

// Opener opens the bus for one reading.
type Opener func() (Conn, error)

// LightSensor converts ADC readings to a light percentage. The bus is
// opened per reading and held only for the transfer.
type LightSensor struct {
	open Opener
	log  *logging.Logger
}

// New creates a sensor that reads through open.
func New(open Opener, log *logging.Logger) *LightSensor {
	return &LightSensor{open: open, log: log.With("component", "sensor")}
}

// ReadLevel performs one transfer and returns the light level in percent.
// There is no retry; callers skip the reading on error.
func (s *LightSensor) ReadLevel() (float64, error) {
	conn, err := s.open()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBusUnavailable, err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.log.Warn("failed to close bus", "error", err)
		}
	}()

	w := command
	var r [frameSize]byte
	if err := conn.Tx(w[:], r[:]); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransfer, err)
	}

	sample := Sample(r[:])
	level := Percent(sample)
	s.log.Debug("light level read", "sample", sample, "level", level)
	return level, nil
}

// Sample assembles the raw code from the first three response bytes.
func Sample(resp []byte) uint32 {
	if len(resp) < 3 {
		return 0
	}
	return uint32(resp[0])<<16 | uint32(resp[1])<<8 | uint32(resp[2])
}

// Percent maps a raw code to a light level: 0 is full light (100%) and
// 4096 or more is dark (0%). The result is always within [0, 100].
func Percent(sample uint32) float64 {
	level := (1 - float64(sample)/fullScale) * 100
	switch {
	case level < 0:
		return 0
	case level > 100:
		return 100
	default:
		return level
	}
}
