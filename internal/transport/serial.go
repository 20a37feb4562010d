package transport

import (
	"fmt"

	"go.bug.st/serial"
)

// Serial is a pump connection over go.bug.st/serial.
type Serial struct {
	portPath string
	port     serial.Port
	frames   *frameReader
	open     bool
}

// OpenSerial opens cfg.PortPath with go.bug.st/serial.
func OpenSerial(cfg Config) (*Serial, error) {
	cfg = cfg.withDefaults()

	parity, err := bugstParity(cfg.Parity)
	if err != nil {
		return nil, err
	}
	stopBits := serial.OneStopBit
	if cfg.StopBits == 2 {
		stopBits = serial.TwoStopBits
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   parity,
		StopBits: stopBits,
	}
	port, err := serial.Open(cfg.PortPath, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to open %s: %w", cfg.PortPath, err)
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("transport: failed to set timeout: %w", err)
	}

	return &Serial{
		portPath: cfg.PortPath,
		port:     port,
		frames:   newFrameReader(port),
		open:     true,
	}, nil
}

func bugstParity(p string) (serial.Parity, error) {
	switch p {
	case "none", "":
		return serial.NoParity, nil
	case "even":
		return serial.EvenParity, nil
	case "odd":
		return serial.OddParity, nil
	}
	return serial.NoParity, fmt.Errorf("transport: unknown parity %q", p)
}

// Name returns the port path.
func (s *Serial) Name() string { return s.portPath }

func (s *Serial) Write(p []byte) (int, error) {
	if !s.open {
		return 0, ErrClosed
	}
	return s.port.Write(p)
}

// ReadUntil reads until term or until the port's read timeout passes with
// no data.
func (s *Serial) ReadUntil(term byte) ([]byte, error) {
	if !s.open {
		return nil, ErrClosed
	}
	return s.frames.readUntil(term)
}

// ResetInputBuffer discards unread input, both in the driver and in the
// frame buffer.
func (s *Serial) ResetInputBuffer() error {
	if !s.open {
		return ErrClosed
	}
	s.frames.reset()
	return s.port.ResetInputBuffer()
}

func (s *Serial) Close() error {
	if !s.open {
		return nil
	}
	s.open = false
	return s.port.Close()
}

func (s *Serial) IsOpen() bool { return s.open }
