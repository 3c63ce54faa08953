package sensor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coop-door-controller/internal/logging"
)

type fakeConn struct {
	resp    []byte
	txErr   error
	written []byte
	closed  bool
}

func (c *fakeConn) Tx(w, r []byte) error {
	c.written = append([]byte(nil), w...)
	if c.txErr != nil {
		return c.txErr
	}
	copy(r, c.resp)
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func sensorWith(conn *fakeConn) *LightSensor {
	return New(func() (Conn, error) { return conn, nil }, logging.Discard())
}

func TestPercent_Endpoints(t *testing.T) {
	assert.Equal(t, 100.0, Percent(0))
	assert.Equal(t, 50.0, Percent(2048))
	assert.Equal(t, 0.0, Percent(4096))
	assert.Equal(t, 0.0, Percent(5000), "clamped")
	assert.Equal(t, 0.0, Percent(1<<24-1), "clamped")
}

func TestPercent_MonotoneAndBounded(t *testing.T) {
	prev := Percent(0)
	for s := uint32(1); s <= 8192; s++ {
		p := Percent(s)
		require.LessOrEqual(t, p, prev, "sample %d", s)
		require.GreaterOrEqual(t, p, 0.0)
		require.LessOrEqual(t, p, 100.0)
		prev = p
	}
}

func TestSample_Assembly(t *testing.T) {
	assert.Equal(t, uint32(0x010203), Sample([]byte{0x01, 0x02, 0x03, 0xff, 0xff}))
	assert.Equal(t, uint32(0), Sample([]byte{0x01}))
}

func TestReadLevel_WritesCommandFrame(t *testing.T) {
	conn := &fakeConn{resp: []byte{0x00, 0x08, 0x00, 0x00, 0x00}}

	level, err := sensorWith(conn).ReadLevel()
	require.NoError(t, err)
	assert.Equal(t, 50.0, level)
	assert.Equal(t, []byte{0x06, 0x00, 0x00, 0x00, 0x00}, conn.written)
	assert.True(t, conn.closed)
}

func TestReadLevel_BusUnavailable(t *testing.T) {
	s := New(func() (Conn, error) { return nil, errors.New("no such device") }, logging.Discard())

	_, err := s.ReadLevel()
	assert.ErrorIs(t, err, ErrBusUnavailable)
	assert.NotErrorIs(t, err, ErrTransfer)
}

func TestReadLevel_TransferError(t *testing.T) {
	conn := &fakeConn{txErr: errors.New("ioctl failed")}

	_, err := sensorWith(conn).ReadLevel()
	assert.ErrorIs(t, err, ErrTransfer)
	assert.True(t, conn.closed, "bus released after a failed transfer")
}

func TestFixed(t *testing.T) {
	f := NewFixed(1024)
	s := New(f.Opener(), logging.Discard())

	level, err := s.ReadLevel()
	require.NoError(t, err)
	assert.Equal(t, 75.0, level)

	f.Set(4096)
	level, err = s.ReadLevel()
	require.NoError(t, err)
	assert.Equal(t, 0.0, level)
}
