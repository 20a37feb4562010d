package transport

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader hands out one chunk per Read; an empty chunk is a timeout.
type chunkReader struct {
	chunks []string
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, nil
	}
	c := r.chunks[0]
	n := copy(p, c)
	if n < len(c) {
		r.chunks[0] = c[n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{PortPath: "/dev/ttyUSB0"}.withDefaults()
	assert.Equal(t, 9600, cfg.BaudRate)
	assert.Equal(t, 8, cfg.DataBits)
	assert.Equal(t, "none", cfg.Parity)
	assert.Equal(t, 1, cfg.StopBits)
	assert.Equal(t, 100*time.Millisecond, cfg.ReadTimeout)
	assert.Equal(t, "bugst", cfg.Driver)

	cfg = Config{BaudRate: 19200, Driver: "tarm"}.withDefaults()
	assert.Equal(t, 19200, cfg.BaudRate)
	assert.Equal(t, "tarm", cfg.Driver)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{PortPath: "/dev/null", Driver: "usb"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestFrameReaderJoinsChunks(t *testing.T) {
	f := newFrameReader(&chunkReader{chunks: []string{"OK,00", "00,10", ".00/"}})
	b, err := f.readUntil('/')
	require.NoError(t, err)
	assert.Equal(t, "OK,0000,10.00/", string(b))
}

func TestFrameReaderKeepsTrailingBytes(t *testing.T) {
	f := newFrameReader(&chunkReader{chunks: []string{"OK/OK,1,0,0/"}})

	b, err := f.readUntil('/')
	require.NoError(t, err)
	assert.Equal(t, "OK/", string(b))

	b, err = f.readUntil('/')
	require.NoError(t, err)
	assert.Equal(t, "OK,1,0,0/", string(b))
}

func TestFrameReaderTimeoutReturnsPartial(t *testing.T) {
	f := newFrameReader(&chunkReader{chunks: []string{"OK,12"}})
	b, err := f.readUntil('/')
	require.NoError(t, err)
	assert.Equal(t, "OK,12", string(b))

	b, err = f.readUntil('/')
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestFrameReaderTreatsEOFAsTimeout(t *testing.T) {
	f := newFrameReader(&chunkReader{err: io.EOF})
	b, err := f.readUntil('/')
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestFrameReaderPassesErrors(t *testing.T) {
	boom := errors.New("device unplugged")
	f := newFrameReader(&chunkReader{chunks: []string{"OK"}, err: boom})
	b, err := f.readUntil('/')
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "OK", string(b))
}

func TestFrameReaderBoundsFrame(t *testing.T) {
	noise := make([]byte, maxFrame+10)
	for i := range noise {
		noise[i] = 'x'
	}
	f := newFrameReader(&chunkReader{chunks: []string{string(noise)}})
	b, err := f.readUntil('/')
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(b), maxFrame)
}

func TestFrameReaderReset(t *testing.T) {
	f := newFrameReader(&chunkReader{chunks: []string{"OK/"}})
	f.pending = []byte("OK,1,")
	f.reset()

	b, err := f.readUntil('/')
	require.NoError(t, err)
	assert.Equal(t, "OK/", string(b))
}
