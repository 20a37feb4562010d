package transport

import (
	"fmt"

	"github.com/tarm/serial"
)

// Tarm is a pump connection over github.com/tarm/serial, for platforms
// where go.bug.st/serial misbehaves with USB adapters.
type Tarm struct {
	portPath string
	port     *serial.Port
	frames   *frameReader
	open     bool
}

// OpenTarm opens cfg.PortPath with tarm/serial.
func OpenTarm(cfg Config) (*Tarm, error) {
	cfg = cfg.withDefaults()

	parity := serial.ParityNone
	switch cfg.Parity {
	case "none", "":
	case "even":
		parity = serial.ParityEven
	case "odd":
		parity = serial.ParityOdd
	default:
		return nil, fmt.Errorf("transport: unknown parity %q", cfg.Parity)
	}
	stopBits := serial.Stop1
	if cfg.StopBits == 2 {
		stopBits = serial.Stop2
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.PortPath,
		Baud:        cfg.BaudRate,
		Size:        byte(cfg.DataBits),
		Parity:      parity,
		StopBits:    stopBits,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: failed to open %s: %w", cfg.PortPath, err)
	}

	return &Tarm{
		portPath: cfg.PortPath,
		port:     port,
		frames:   newFrameReader(port),
		open:     true,
	}, nil
}

// Name returns the port path.
func (t *Tarm) Name() string { return t.portPath }

func (t *Tarm) Write(p []byte) (int, error) {
	if !t.open {
		return 0, ErrClosed
	}
	return t.port.Write(p)
}

// ReadUntil reads until term or until a read times out. tarm reports a
// timeout as io.EOF with no data, which frameReader treats as silence.
func (t *Tarm) ReadUntil(term byte) ([]byte, error) {
	if !t.open {
		return nil, ErrClosed
	}
	return t.frames.readUntil(term)
}

// ResetInputBuffer discards unread input. tarm's Flush drops both
// directions, which is fine before a new command.
func (t *Tarm) ResetInputBuffer() error {
	if !t.open {
		return ErrClosed
	}
	t.frames.reset()
	return t.port.Flush()
}

func (t *Tarm) Close() error {
	if !t.open {
		return nil
	}
	t.open = false
	return t.port.Close()
}

func (t *Tarm) IsOpen() bool { return t.open }
