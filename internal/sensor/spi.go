package sensor

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

var (
	hostOnce sync.Once
	hostErr  error
)

func initHost() error {
	hostOnce.Do(func() {
		if _, err := host.Init(); err != nil {
			hostErr = fmt.Errorf("failed to init periph host: %w", err)
		}
	})
	return hostErr
}

// SPIBus opens the named SPI port (e.g. "SPI0.0") in mode 0 with 8-bit
// words at speedHz.
func SPIBus(port string, speedHz int64) Opener {
	return func() (Conn, error) {
		if err := initHost(); err != nil {
			return nil, err
		}
		p, err := spireg.Open(port)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", port, err)
		}
		c, err := p.Connect(physic.Frequency(speedHz)*physic.Hertz, spi.Mode0, 8)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("connect %s: %w", port, err)
		}
		return &spiConn{port: p, conn: c}, nil
	}
}

type spiConn struct {
	port spi.PortCloser
	conn spi.Conn
}

func (c *spiConn) Tx(w, r []byte) error {
	return c.conn.Tx(w, r)
}

func (c *spiConn) Close() error {
	return c.port.Close()
}
