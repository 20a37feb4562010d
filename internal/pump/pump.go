// Package pump is the typed command set of Next Generation HPLC pumps.
//
// A Pump owns one transport for its lifetime. Opening it runs an
// identification handshake that caches the pump's fixed properties; every
// other reading is a fresh round trip. A Pump is not safe for concurrent
// use.
package pump

import (
	"fmt"
	"strings"
	"time"

	"github.com/shaunagostinho/hplc-pump/internal/protocol"
	"github.com/shaunagostinho/hplc-pump/internal/transport"
)

// defaultPrecision is used when the CS flowrate has no decimal point.
const defaultPrecision = 2

// Pump is an open session with one pump.
type Pump struct {
	name   string
	port   protocol.Transport
	engine *protocol.Engine
	logger protocol.Logger
	open   bool

	// Cached by identify, never updated afterwards.
	version       string
	head          string
	pressureUnits string
	maxFlowrate   float64
	maxPressure   float64
	precision     int
}

// Open opens the serial port described by cfg and identifies the pump.
func Open(cfg transport.Config, opts ...Option) (*Pump, error) {
	port, err := transport.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("pump: %w", err)
	}
	p, err := New(port, append([]Option{WithName(cfg.PortPath)}, opts...)...)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// New identifies the pump on an already open transport. On failure the
// transport is closed.
func New(port protocol.Transport, opts ...Option) (*Pump, error) {
	if port == nil {
		return nil, fmt.Errorf("pump: nil transport")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	registry := protocol.DefaultRegistry()
	registry.Merge(o.schemas)

	// The registry goes last so the pressure unit set by identify cannot be
	// changed from outside the session.
	engineOpts := []protocol.Option{protocol.WithLogger(o.logger)}
	engineOpts = append(engineOpts, o.engineOpts...)
	engineOpts = append(engineOpts, protocol.WithRegistry(registry))

	p := &Pump{
		name:      o.name,
		port:      port,
		engine:    protocol.NewEngine(port, engineOpts...),
		logger:    o.logger,
		open:      true,
		precision: defaultPrecision,
	}

	if err := p.identify(); err != nil {
		p.open = false
		port.Close()
		return nil, fmt.Errorf("pump: identify: %w", err)
	}

	p.logInfo("pump identified",
		"pump", p.name,
		"version", p.version,
		"head", p.head,
		"max_flowrate", p.maxFlowrate,
		"max_pressure", p.maxPressure,
		"pressure_units", p.pressureUnits,
	)
	return p, nil
}

// identify reads the fixed pump properties. Pumps without a pressure
// sensor reject PU and MP; they keep an empty unit and zero max pressure.
func (p *Pump) identify() error {
	rec, err := p.engine.Command("ID")
	if err != nil {
		return err
	}
	p.version, _ = rec.Text("version")

	rec, err = p.engine.Command("PI")
	switch {
	case err == nil:
		p.head, _ = rec.Text("head")
	case !protocol.IsDeviceError(err):
		return err
	}

	rec, err = p.engine.Command("MF")
	if err != nil {
		return err
	}
	p.maxFlowrate, _ = rec.Float("max_flowrate")

	rec, err = p.engine.Command("CS")
	if err != nil {
		return err
	}
	p.precision = flowratePrecision(rec.Response())

	rec, err = p.engine.Command("PU")
	switch {
	case err == nil:
		p.pressureUnits, _ = rec.Text("pressure_units")
	case !protocol.IsDeviceError(err):
		return err
	}
	p.engine.Registry().SetPressureUnit(p.pressureUnits)

	if p.pressureUnits == "" {
		return nil
	}
	rec, err = p.engine.Command("MP")
	switch {
	case err == nil:
		p.maxPressure, _ = rec.Float("max_pressure")
	case !protocol.IsDeviceError(err):
		return err
	}
	return nil
}

// flowratePrecision counts the decimals of the flowrate in a CS response,
// "OK,5.000,..." -> 3.
func flowratePrecision(raw string) int {
	fields := strings.Split(strings.TrimSuffix(raw, "/"), ",")
	if len(fields) < 2 {
		return defaultPrecision
	}
	i := strings.IndexByte(fields[1], '.')
	if i < 0 {
		return defaultPrecision
	}
	return len(fields[1]) - i - 1
}

// Close releases the transport. Closing twice returns a ClosedSessionError.
func (p *Pump) Close() error {
	if err := p.checkOpen("close"); err != nil {
		return err
	}
	p.open = false
	if err := p.port.Close(); err != nil {
		return fmt.Errorf("pump: close: %w", err)
	}
	p.logInfo("pump closed", "pump", p.name)
	return nil
}

// IsOpen reports whether the session is open.
func (p *Pump) IsOpen() bool { return p.open }

// Name is the label set with WithName, typically the port path.
func (p *Pump) Name() string { return p.name }

// Version is the firmware identification, e.g. "NG Version 3.0.6".
func (p *Pump) Version() string { return p.version }

// Head is the pump head type reported at open.
func (p *Pump) Head() string { return p.head }

// PressureUnits is "psi", "bar" or "MPa"; empty for pumps without a
// pressure sensor.
func (p *Pump) PressureUnits() string { return p.pressureUnits }

// MaxFlowrate in mL/min.
func (p *Pump) MaxFlowrate() float64 { return p.maxFlowrate }

// MaxPressure in PressureUnits.
func (p *Pump) MaxPressure() float64 { return p.maxPressure }

// FlowratePrecision is the number of decimals the pump uses for flowrates.
func (p *Pump) FlowratePrecision() int { return p.precision }

// HasPressureSensor reports whether the pump reported a pressure unit.
func (p *Pump) HasPressureSensor() bool { return p.pressureUnits != "" }

// MaxBlock returns the longest a single command can block for the given
// transport read timeout.
func (p *Pump) MaxBlock(readTimeout time.Duration) time.Duration {
	return p.engine.MaxBlock(readTimeout)
}

// Command sends any command and returns its parsed response.
func (p *Pump) Command(cmd string, opts ...protocol.CallOption) (protocol.Record, error) {
	if err := p.checkOpen("command"); err != nil {
		return nil, err
	}
	return p.engine.Command(cmd, opts...)
}

// Write sends cmd once and returns the raw response text.
func (p *Pump) Write(cmd string, opts ...protocol.CallOption) (string, error) {
	if err := p.checkOpen("write"); err != nil {
		return "", err
	}
	return p.engine.Write(cmd, opts...)
}

func (p *Pump) checkOpen(op string) error {
	if !p.open {
		return &ClosedSessionError{Op: op}
	}
	return nil
}

func (p *Pump) logInfo(msg string, keysAndValues ...interface{}) {
	if p.logger != nil {
		p.logger.Info(msg, keysAndValues...)
	}
}
