package serial

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

type read struct {
	data string
	err  error
}

type scriptedReader struct {
	reads []read
}

func (s *scriptedReader) Read(b []byte) (int, error) {
	r := s.reads[0]
	s.reads = s.reads[1:]
	return copy(b, r.data), r.err
}

func (s *scriptedReader) Write(b []byte) (int, error) { return len(b), nil }
func (s *scriptedReader) Close() error                { return nil }

func TestTimeoutPortRead(t *testing.T) {
	boom := errors.New("boom")
	r := &scriptedReader{reads: []read{{"", io.EOF}, {"ok", nil}, {"", boom}}}
	flushed := false
	p := &timeoutPort{ReadWriteCloser: r, flush: func() error { flushed = true; return nil }}

	buf := make([]byte, 8)
	n, err := p.Read(buf)
	require.NoError(t, err, "an expired timeout is not end of stream")
	require.Zero(t, n)

	n, err = p.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ok", string(buf[:n]))

	_, err = p.Read(buf)
	require.ErrorIs(t, err, boom)

	require.NoError(t, p.Flush())
	require.True(t, flushed)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyACM0")
	require.Equal(t, "/dev/ttyACM0", cfg.Device)
	require.Equal(t, 921600, cfg.Baud)
	require.NotZero(t, cfg.ReadTimeout)

	_, err := Open(nil)
	require.Error(t, err)
}
