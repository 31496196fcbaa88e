package network

import "time"

// ControlMode selects who actuates regulator taps during a solve.
type ControlMode int

const (
	// ControlOff leaves taps exactly where the caller put them.
	ControlOff ControlMode = iota
	// ControlTime lets the solver's own regulator automation move taps every interval.
	ControlTime
)

// StepSize is the length of one control interval.
const StepSize = 15 * time.Minute

// StepsPerDay is the number of control intervals in a simulated day.
const StepsPerDay = 96

// PQ is a complex power in kW / kvar.
type PQ struct {
	KW   float64
	KVAR float64
}

// VoltageReader exposes bus voltage measurements. Every query names its bus.
type VoltageReader interface {
	// BusVoltages returns the per-phase voltage magnitudes in volts.
	BusVoltages(bus string) ([]float64, error)
	// BusKVBase returns the phase voltage base in kV.
	BusKVBase(bus string) (float64, error)
	// AllBusVmagPu returns the per-unit magnitude of every node in the circuit.
	AllBusVmagPu() []float64
}

// TapActuator reads and writes regulator tap positions.
type TapActuator interface {
	TapNumber(reg string) (int, error)
	SetTapNumber(reg string, tap int) error
	RegulatorNames() []string
}

// PowerReader exposes circuit-wide power totals. TotalPower follows the
// source convention: power delivered into the circuit is negative.
type PowerReader interface {
	TotalPower() PQ
	Losses() PQ
}

// Solver is the power-flow collaborator. A Solver instance is a single
// session and must not be shared between concurrent callers.
type Solver interface {
	VoltageReader
	TapActuator
	PowerReader

	Compile(def Network) error
	Network() Network
	RegTransformer(reg string) (string, error)

	SetPVEnabled(pv string, enabled bool) error
	SetPVTemperature(pv string, curve XYCurve, celsius float64) error
	SetLoadMult(mult float64)
	AddLoad(load Load) error

	// SetTime positions the simulated clock at hour and sets the step size.
	SetTime(hour float64, step time.Duration)
	SetControlMode(mode ControlMode, maxIter int)

	// Solve solves the current interval and advances the clock one step.
	Solve() error
	// SolveNoControl solves a snapshot at the current time, no automation, no clock advance.
	SolveNoControl() error
	Converged() bool
}

// ClampTap reports the candidate tap and whether it is inside the physical range.
func ClampTap(current, delta int) (int, bool) {
	candidate := current + delta
	return candidate, candidate >= MinTap && candidate <= MaxTap
}
