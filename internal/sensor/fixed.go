package sensor

import "sync/atomic"

// Fixed is a simulated ADC that always answers with the same code.
type Fixed struct {
	sample atomic.Uint32
}

// NewFixed creates a simulated ADC returning sample.
func NewFixed(sample uint32) *Fixed {
	f := &Fixed{}
	f.sample.Store(sample)
	return f
}

// Set changes the code returned by later readings.
func (f *Fixed) Set(sample uint32) {
	f.sample.Store(sample)
}

// Opener returns an Opener over the simulated ADC.
func (f *Fixed) Opener() Opener {
	return func() (Conn, error) {
		return fixedConn{sample: f.sample.Load()}, nil
	}
}

type fixedConn struct {
	sample uint32
}

func (c fixedConn) Tx(w, r []byte) error {
	if len(r) >= 3 {
		r[0] = byte(c.sample >> 16)
		r[1] = byte(c.sample >> 8)
		r[2] = byte(c.sample)
	}
	return nil
}

func (c fixedConn) Close() error { return nil }
