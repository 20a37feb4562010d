package pump

import (
	"fmt"
	"math"
	"strings"

	"github.com/shaunagostinho/hplc-pump/internal/protocol"
)

// Flowrate compensation bounds accepted by UC.
const (
	MinFlowrateCompensation = 0.85
	MaxFlowrateCompensation = 1.15
)

// command runs cmd on an open session.
func (p *Pump) command(op, cmd string) (protocol.Record, error) {
	if err := p.checkOpen(op); err != nil {
		return nil, err
	}
	return p.engine.Command(cmd)
}

func (p *Pump) control(op, cmd string) error {
	_, err := p.command(op, cmd)
	return err
}

// Run starts the pump. It returns once the pump acknowledged the command.
func (p *Pump) Run() error { return p.control("run", "RU") }

// Stop stops the pump.
func (p *Pump) Stop() error { return p.control("stop", "ST") }

// KeypadEnable unlocks the front panel keypad.
func (p *Pump) KeypadEnable() error { return p.control("keypad enable", "KE") }

// KeypadDisable locks the front panel keypad.
func (p *Pump) KeypadDisable() error { return p.control("keypad disable", "KD") }

// ClearFaults clears latched faults.
func (p *Pump) ClearFaults() error { return p.control("clear faults", "CF") }

// Reset restores the pump's factory settings.
func (p *Pump) Reset() error { return p.control("reset", "RE") }

// ZeroSeal zeroes the seal life stroke counter.
func (p *Pump) ZeroSeal() error { return p.control("zero seal", "ZS") }

// ClearCommandBuffer sends "#", which the pump never answers.
func (p *Pump) ClearCommandBuffer() error {
	if err := p.checkOpen("clear command buffer"); err != nil {
		return err
	}
	_, err := p.engine.Write(protocol.ClearBuffer)
	return err
}

// CurrentConditions returns pressure and flowrate ("CC").
func (p *Pump) CurrentConditions() (protocol.Record, error) {
	return p.command("current conditions", "CC")
}

// CurrentState returns flowrate, pressure limits, units and run state ("CS").
func (p *Pump) CurrentState() (protocol.Record, error) {
	return p.command("current state", "CS")
}

// ReadFaults returns the motor stall and pressure limit faults ("RF").
func (p *Pump) ReadFaults() (protocol.Record, error) {
	return p.command("read faults", "RF")
}

// PumpInformation returns the pump information record ("PI").
func (p *Pump) PumpInformation() (protocol.Record, error) {
	return p.command("pump information", "PI")
}

// Flowrate returns the set flowrate in mL/min.
func (p *Pump) Flowrate() (float64, error) {
	rec, err := p.command("flowrate", "CS")
	if err != nil {
		return 0, err
	}
	return field(rec, "flowrate", rec.Float)
}

// SetFlowrate sets the flowrate in mL/min. Values outside 0..MaxFlowrate
// are rejected without contacting the pump.
func (p *Pump) SetFlowrate(flowrate float64) error {
	if err := p.checkOpen("set flowrate"); err != nil {
		return err
	}
	if math.IsNaN(flowrate) || flowrate < 0 || flowrate > p.maxFlowrate {
		return &ValidationError{Field: "flowrate", Value: flowrate, Min: 0.0, Max: p.maxFlowrate}
	}
	arg := int(math.Round(flowrate * math.Pow10(p.precision)))
	_, err := p.engine.Command(fmt.Sprintf("FI%d", arg))
	return err
}

// IsRunning reports the run bit of the current state.
func (p *Pump) IsRunning() (bool, error) {
	rec, err := p.command("is running", "CS")
	if err != nil {
		return false, err
	}
	return field(rec, "is_running", rec.Bool)
}

// Pressure returns the current pressure in PressureUnits. psi readings
// are whole numbers.
func (p *Pump) Pressure() (float64, error) {
	rec, err := p.command("pressure", "PR")
	if err != nil {
		return 0, err
	}
	return field(rec, "pressure", rec.Number)
}

// LeakDetected reports the leak sensor. Pumps without one report false.
func (p *Pump) LeakDetected() (bool, error) {
	rec, err := p.command("leak detected", "LS")
	if err != nil {
		return false, err
	}
	return field(rec, "leak_detected", rec.Bool)
}

// StrokeCounter returns the seal life stroke counter.
func (p *Pump) StrokeCounter() (int, error) {
	rec, err := p.command("stroke counter", "GS")
	if err != nil {
		return 0, err
	}
	return field(rec, "stroke_counter", rec.Int)
}

// FlowrateCompensation returns the flowrate compensation factor, 1.0 being
// uncompensated.
func (p *Pump) FlowrateCompensation() (float64, error) {
	rec, err := p.command("flowrate compensation", "UC")
	if err != nil {
		return 0, err
	}
	v, err := field(rec, "flowrate_compensation", rec.Int)
	if err != nil {
		return 0, err
	}
	return float64(v) / 1000, nil
}

// SetFlowrateCompensation sets the flowrate compensation factor, between
// 0.85 and 1.15.
func (p *Pump) SetFlowrateCompensation(factor float64) error {
	if err := p.checkOpen("set flowrate compensation"); err != nil {
		return err
	}
	if math.IsNaN(factor) || factor < MinFlowrateCompensation || factor > MaxFlowrateCompensation {
		return &ValidationError{
			Field: "flowrate compensation",
			Value: factor,
			Min:   MinFlowrateCompensation,
			Max:   MaxFlowrateCompensation,
		}
	}
	_, err := p.engine.Command(fmt.Sprintf("UC%04d", int(math.Round(factor*1000))))
	return err
}

// UpperPressureLimit returns the upper pressure limit in PressureUnits.
func (p *Pump) UpperPressureLimit() (float64, error) {
	rec, err := p.command("upper pressure limit", "UP")
	if err != nil {
		return 0, err
	}
	return field(rec, "upper_pressure_limit", rec.Float)
}

// SetUpperPressureLimit sets the upper pressure limit in PressureUnits.
func (p *Pump) SetUpperPressureLimit(limit float64) error {
	return p.setPressureLimit("set upper pressure limit", "UP", limit)
}

// LowerPressureLimit returns the lower pressure limit in PressureUnits.
func (p *Pump) LowerPressureLimit() (float64, error) {
	rec, err := p.command("lower pressure limit", "LP")
	if err != nil {
		return 0, err
	}
	return field(rec, "lower_pressure_limit", rec.Float)
}

// SetLowerPressureLimit sets the lower pressure limit in PressureUnits.
func (p *Pump) SetLowerPressureLimit(limit float64) error {
	return p.setPressureLimit("set lower pressure limit", "LP", limit)
}

// setPressureLimit sends a limit scaled to the pump's unit: psi as a whole
// number, bar in tenths, MPa in hundredths.
func (p *Pump) setPressureLimit(op, mnemonic string, limit float64) error {
	if err := p.checkOpen(op); err != nil {
		return err
	}
	name := strings.TrimPrefix(op, "set ")
	if !p.HasPressureSensor() {
		return &ValidationError{Field: name, Value: limit, Reason: "pump has no pressure sensor"}
	}
	if math.IsNaN(limit) || limit < 0 || limit > p.maxPressure {
		return &ValidationError{Field: name, Value: limit, Min: 0.0, Max: p.maxPressure}
	}

	var scaled int
	switch {
	case strings.EqualFold(p.pressureUnits, "bar"):
		scaled = int(math.Round(limit * 10))
	case strings.EqualFold(p.pressureUnits, "MPa"):
		scaled = int(math.Round(limit * 100))
	default:
		scaled = int(math.Round(limit))
	}
	_, err := p.engine.Command(fmt.Sprintf("%s%d", mnemonic, scaled))
	return err
}

// LeakMode returns the leak sensor mode.
func (p *Pump) LeakMode() (LeakMode, error) {
	rec, err := p.command("leak mode", "LM")
	if err != nil {
		return 0, err
	}
	v, err := field(rec, "leak_mode", rec.Int)
	return LeakMode(v), err
}

// SetLeakMode sets the leak sensor mode.
func (p *Pump) SetLeakMode(mode LeakMode) error {
	if err := p.checkOpen("set leak mode"); err != nil {
		return err
	}
	if mode < LeakDisabled || mode > LeakNoFault {
		return &ValidationError{Field: "leak mode", Value: int(mode), Min: int(LeakDisabled), Max: int(LeakNoFault)}
	}
	_, err := p.engine.Command(fmt.Sprintf("LM%d", int(mode)))
	return err
}

// Solvent returns the solvent compressibility in 10^-6 per bar.
func (p *Pump) Solvent() (int, error) {
	rec, err := p.command("solvent", "RS")
	if err != nil {
		return 0, err
	}
	return field(rec, "solvent", rec.Int)
}

// SetSolvent sets the solvent compressibility in 10^-6 per bar.
func (p *Pump) SetSolvent(compressibility int) error {
	if err := p.checkOpen("set solvent"); err != nil {
		return err
	}
	if compressibility < 0 {
		return &ValidationError{Field: "solvent", Value: compressibility, Reason: "must not be negative"}
	}
	_, err := p.engine.Command(fmt.Sprintf("SS%d", compressibility))
	return err
}

// SetSolventByName sets the compressibility of a known solvent, see Solvents.
func (p *Pump) SetSolventByName(name string) error {
	v, ok := SolventCompressibility(name)
	if !ok {
		if err := p.checkOpen("set solvent"); err != nil {
			return err
		}
		return &ValidationError{Field: "solvent", Value: name, Reason: "unknown solvent"}
	}
	return p.SetSolvent(v)
}

// field extracts a typed field, reporting a ParseError when a schema
// override dropped it.
func field[T any](rec protocol.Record, name string, get func(string) (T, bool)) (T, error) {
	v, ok := get(name)
	if !ok {
		var zero T
		return zero, &protocol.ParseError{Response: rec.Response(), Field: name, Reason: "field missing"}
	}
	return v, nil
}
