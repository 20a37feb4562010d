package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shaunagostinho/hplc-pump/internal/protocol"
)

// Config holds serial connection configuration for one pump.
type Config struct {
	PortPath    string        `yaml:"port_path" json:"portPath"`
	BaudRate    int           `yaml:"baud_rate" json:"baudRate"`
	DataBits    int           `yaml:"data_bits" json:"dataBits"`
	Parity      string        `yaml:"parity" json:"parity"` // "none", "even", "odd"
	StopBits    int           `yaml:"stop_bits" json:"stopBits"`
	ReadTimeout time.Duration `yaml:"read_timeout" json:"readTimeout"`
	Driver      string        `yaml:"driver" json:"driver"` // "bugst" (default) or "tarm"
}

const (
	defaultBaudRate    = 9600
	defaultReadTimeout = 100 * time.Millisecond

	// maxFrame bounds a single ReadUntil; the longest pump response (PI) is
	// well under 100 bytes.
	maxFrame = 256
)

// withDefaults fills zero values with the pump's documented line settings:
// 9600 baud, 8N1, 100 ms read timeout.
func (c Config) withDefaults() Config {
	if c.BaudRate == 0 {
		c.BaudRate = defaultBaudRate
	}
	if c.DataBits == 0 {
		c.DataBits = 8
	}
	if c.Parity == "" {
		c.Parity = "none"
	}
	if c.StopBits == 0 {
		c.StopBits = 1
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.Driver == "" {
		c.Driver = "bugst"
	}
	return c
}

// Open opens the serial port described by cfg with the configured driver.
func Open(cfg Config) (protocol.Transport, error) {
	cfg = cfg.withDefaults()
	switch strings.ToLower(cfg.Driver) {
	case "bugst":
		return OpenSerial(cfg)
	case "tarm":
		return OpenTarm(cfg)
	}
	return nil, fmt.Errorf("transport: unknown driver %q", cfg.Driver)
}

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport: port closed")

// frameReader accumulates bytes from a timed-out reader until a terminator
// arrives. Bytes that follow the terminator are kept for the next frame.
type frameReader struct {
	r       io.Reader
	pending []byte
	buf     []byte
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: r, buf: make([]byte, 64)}
}

// readUntil returns everything up to and including term. A read that
// returns no data is a timeout: whatever accumulated so far is returned
// without an error.
func (f *frameReader) readUntil(term byte) ([]byte, error) {
	for {
		if i := bytes.IndexByte(f.pending, term); i >= 0 {
			frame := append([]byte(nil), f.pending[:i+1]...)
			f.pending = f.pending[i+1:]
			return frame, nil
		}
		if len(f.pending) >= maxFrame {
			return f.take(), nil
		}

		n, err := f.r.Read(f.buf)
		if n > 0 {
			f.pending = append(f.pending, f.buf[:n]...)
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return f.take(), err
		}
		// silence: read timeout expired
		return f.take(), nil
	}
}

func (f *frameReader) take() []byte {
	out := f.pending
	f.pending = nil
	return out
}

func (f *frameReader) reset() {
	f.pending = nil
}
