package transport

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"

	"github.com/shaunagostinho/hplc-pump/internal/protocol"
)

// SimulatorConfig describes the simulated pump model.
type SimulatorConfig struct {
	Version     string  `yaml:"version" json:"version"`
	Head        string  `yaml:"head" json:"head"`
	Units       string  `yaml:"units" json:"units"` // "psi", "bar", "MPa"; empty for no pressure sensor
	MaxFlowrate float64 `yaml:"max_flowrate" json:"maxFlowrate"`
	MaxPressure float64 `yaml:"max_pressure" json:"maxPressure"`
	Precision   int     `yaml:"precision" json:"precision"` // flowrate decimals, 2 or 3
	Seed        int64   `yaml:"seed" json:"seed"`
}

// Simulator is an in-memory pump that speaks the Next Generation protocol.
// It implements protocol.Transport and is used for demo mode and tests.
type Simulator struct {
	mu  sync.Mutex
	cfg SimulatorConfig
	rng *rand.Rand

	open    bool
	pending []byte
	writes  int
	drop    int // replies to swallow, simulating timeouts
	garble  int // replies to cut short

	running      bool
	flowrate     float64
	upperLimit   float64
	lowerLimit   float64
	compensation int
	strokes      int
	leakMode     int
	leak         bool
	solvent      int
	keypad       bool
	stallFault   bool
	upperFault   bool
	lowerFault   bool
}

// NewSimulator creates a simulated pump.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.Version == "" {
		cfg.Version = "NG Version 3.0.6"
	}
	if cfg.Head == "" {
		cfg.Head = "10SS"
	}
	if cfg.MaxFlowrate == 0 {
		cfg.MaxFlowrate = 10
	}
	if cfg.MaxPressure == 0 && cfg.Units != "" {
		cfg.MaxPressure = 6000
	}
	if cfg.Precision == 0 {
		cfg.Precision = 2
	}
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	return &Simulator{
		cfg:          cfg,
		rng:          rand.New(rand.NewSource(cfg.Seed)),
		open:         true,
		flowrate:     1,
		upperLimit:   cfg.MaxPressure,
		compensation: 1000,
		solvent:      46,
		keypad:       true,
	}
}

func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return 0, ErrClosed
	}
	s.writes++

	cmd, err := protocol.Decode(p)
	if err != nil {
		// pumps ignore partial commands
		return len(p), nil
	}
	if cmd == protocol.ClearBuffer {
		s.pending = nil
		return len(p), nil
	}

	reply := s.handle(cmd)
	switch {
	case s.drop > 0:
		s.drop--
	case s.garble > 0:
		s.garble--
		s.pending = append(s.pending, reply[:len(reply)/2]...)
	default:
		s.pending = append(s.pending, reply...)
	}
	return len(p), nil
}

// ReadUntil returns the next reply, or nothing when a reply was dropped.
func (s *Simulator) ReadUntil(term byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil, ErrClosed
	}
	for i, b := range s.pending {
		if b == term {
			frame := append([]byte(nil), s.pending[:i+1]...)
			s.pending = s.pending[i+1:]
			return frame, nil
		}
	}
	out := s.pending
	s.pending = nil
	return out, nil
}

func (s *Simulator) ResetInputBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	return nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

func (s *Simulator) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Writes returns the number of frames written to the simulator.
func (s *Simulator) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// DropReplies makes the next n commands go unanswered.
func (s *Simulator) DropReplies(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drop = n
}

// GarbleReplies truncates the next n replies before their terminator.
func (s *Simulator) GarbleReplies(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.garble = n
}

// SetFaults sets the fault flags reported by RF and PI.
func (s *Simulator) SetFaults(stall, upper, lower bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stallFault, s.upperFault, s.lowerFault = stall, upper, lower
	if stall || upper || lower {
		s.running = false
	}
}

// SetLeak sets the leak sensor state.
func (s *Simulator) SetLeak(leak bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leak = leak
}

// handle executes one command and returns the reply frame.
func (s *Simulator) handle(cmd string) string {
	mnemonic := protocol.Mnemonic(cmd)
	arg, hasArg := s.argument(cmd, mnemonic)

	switch mnemonic {
	case "ID":
		return fmt.Sprintf("OK,%s/", s.cfg.Version)
	case "PI":
		return fmt.Sprintf("OK,%s,%d,0.00,%s,0,1,0,0,%d,%d,0,%d,0,0,0,0,%d/",
			s.formatFlow(s.flowrate), b2i(s.running), s.cfg.Head,
			b2i(s.upperFault), b2i(s.lowerFault), b2i(s.keypad), b2i(s.stallFault))
	case "MF":
		return fmt.Sprintf("OK,MF:%s/", s.formatFlow(s.cfg.MaxFlowrate))
	case "CS":
		return fmt.Sprintf("OK,%s,%s,%s,%s,0,%d,0/",
			s.formatFlow(s.flowrate), s.formatPressure(s.upperLimit), s.formatPressure(s.lowerLimit),
			s.cfg.Units, b2i(s.running))
	case "RF":
		return fmt.Sprintf("OK,%d,%d,%d/", b2i(s.stallFault), b2i(s.upperFault), b2i(s.lowerFault))
	case "RU":
		if s.stallFault || s.upperFault || s.lowerFault {
			return "Er/"
		}
		s.running = true
		return "OK/"
	case "ST":
		s.running = false
		return "OK/"
	case "KE", "KD":
		s.keypad = mnemonic == "KE"
		return "OK/"
	case "CF":
		s.stallFault, s.upperFault, s.lowerFault = false, false, false
		return "OK/"
	case "RE":
		s.flowrate, s.compensation, s.lowerLimit = 1, 1000, 0
		s.upperLimit = s.cfg.MaxPressure
		return "OK/"
	case "ZS":
		s.strokes = 0
		return "OK/"
	case "GS":
		return fmt.Sprintf("OK,GS:%d/", s.strokes)
	case "FI":
		flow := float64(arg) / math.Pow10(s.cfg.Precision)
		if !hasArg || flow > s.cfg.MaxFlowrate {
			return "Er/"
		}
		s.flowrate = flow
		return "OK/"
	case "UC":
		if hasArg {
			if arg < 850 || arg > 1150 {
				return "Er/"
			}
			s.compensation = arg
		}
		return fmt.Sprintf("OK,UC:%04d/", s.compensation)
	case "LS":
		return fmt.Sprintf("OK,LS:%d/", b2i(s.leak))
	case "LM":
		if hasArg {
			if arg > 2 {
				return "Er/"
			}
			s.leakMode = arg
		}
		return fmt.Sprintf("OK,LM:%d/", s.leakMode)
	case "RS":
		return fmt.Sprintf("OK,%d/", s.solvent)
	case "SS":
		if !hasArg {
			return "Er/"
		}
		s.solvent = arg
		return "OK/"
	}

	// pressure sensor commands
	if s.cfg.Units == "" {
		return "Er/"
	}
	switch mnemonic {
	case "PU":
		return fmt.Sprintf("OK,%s/", s.cfg.Units)
	case "MP":
		return fmt.Sprintf("OK,MP:%s/", s.formatPressure(s.cfg.MaxPressure))
	case "PR":
		return fmt.Sprintf("OK,%s/", s.formatPressure(s.pressure()))
	case "CC":
		return fmt.Sprintf("OK,%s,%s/", s.formatPressure(s.pressure()), s.formatFlow(s.flowrate))
	case "UP", "LP":
		limit := &s.upperLimit
		if mnemonic == "LP" {
			limit = &s.lowerLimit
		}
		if hasArg {
			v := s.unscalePressure(arg)
			if v > s.cfg.MaxPressure {
				return "Er/"
			}
			*limit = v
		}
		return fmt.Sprintf("OK,%s:%s/", mnemonic, s.formatPressure(*limit))
	}
	return "Er/"
}

func (s *Simulator) argument(cmd, mnemonic string) (int, bool) {
	rest := strings.TrimPrefix(cmd, mnemonic)
	if rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// pressure models back pressure proportional to flow while running.
func (s *Simulator) pressure() float64 {
	if !s.running {
		return 0
	}
	p := s.flowrate*0.04*s.cfg.MaxPressure + s.rng.Float64()*0.005*s.cfg.MaxPressure
	s.strokes++
	if p > s.cfg.MaxPressure {
		p = s.cfg.MaxPressure
	}
	return p
}

func (s *Simulator) formatFlow(f float64) string {
	return strconv.FormatFloat(f, 'f', s.cfg.Precision, 64)
}

func (s *Simulator) formatPressure(p float64) string {
	switch s.cfg.Units {
	case "psi":
		return fmt.Sprintf("%04d", int(math.Round(p)))
	case "bar":
		return strconv.FormatFloat(p, 'f', 1, 64)
	}
	return strconv.FormatFloat(p, 'f', 2, 64)
}

// unscalePressure converts a UP/LP argument to the pump's unit: psi is sent
// whole, bar in tenths and MPa in hundredths.
func (s *Simulator) unscalePressure(arg int) float64 {
	switch s.cfg.Units {
	case "bar":
		return float64(arg) / 10
	case "MPa":
		return float64(arg) / 100
	}
	return float64(arg)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
