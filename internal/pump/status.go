package pump

import (
	"time"

	"github.com/shaunagostinho/hplc-pump/internal/protocol"
)

// Status is a snapshot of the live pump readings.
type Status struct {
	Stamp time.Time `json:"stamp"`

	// Conditions
	Pressure float64 `json:"pressure"` // PressureUnits
	Flowrate float64 `json:"flowrate"` // mL/min
	Units    string  `json:"units"`
	Running  bool    `json:"running"`

	// Limits
	UpperPressureLimit float64 `json:"upperPressureLimit"`
	LowerPressureLimit float64 `json:"lowerPressureLimit"`

	// Faults
	MotorStallFault    bool `json:"motorStallFault"`
	UpperPressureFault bool `json:"upperPressureFault"`
	LowerPressureFault bool `json:"lowerPressureFault"`
	LeakDetected       bool `json:"leakDetected"`
}

// Faulted reports whether any fault is latched.
func (s *Status) Faulted() bool {
	return s.MotorStallFault || s.UpperPressureFault || s.LowerPressureFault
}

// Status reads CS, RF, LS and, on pumps with a pressure sensor, CC.
// Pumps without a leak sensor that reject LS report no leak.
func (p *Pump) Status() (*Status, error) {
	if err := p.checkOpen("status"); err != nil {
		return nil, err
	}
	st := &Status{Stamp: time.Now(), Units: p.pressureUnits}

	cs, err := p.engine.Command("CS")
	if err != nil {
		return nil, err
	}
	st.Flowrate, _ = cs.Float("flowrate")
	st.Running, _ = cs.Bool("is_running")
	st.UpperPressureLimit, _ = cs.Float("upper_pressure_limit")
	st.LowerPressureLimit, _ = cs.Float("lower_pressure_limit")

	if p.HasPressureSensor() {
		cc, err := p.engine.Command("CC")
		if err != nil {
			return nil, err
		}
		st.Pressure, _ = cc.Number("pressure")
		st.Flowrate, _ = cc.Float("flowrate")
	}

	rf, err := p.engine.Command("RF")
	if err != nil {
		return nil, err
	}
	st.MotorStallFault, _ = rf.Bool("motor_stall_fault")
	st.UpperPressureFault, _ = rf.Bool("upper_pressure_fault")
	st.LowerPressureFault, _ = rf.Bool("lower_pressure_fault")

	ls, err := p.engine.Command("LS")
	switch {
	case err == nil:
		st.LeakDetected, _ = ls.Bool("leak_detected")
	case !protocol.IsDeviceError(err):
		return nil, err
	}
	return st, nil
}
