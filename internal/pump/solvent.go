package pump

import (
	"sort"
	"strings"
)

// LeakMode selects how the pump reacts to its leak sensor.
type LeakMode int

const (
	LeakDisabled LeakMode = 0 // sensor ignored
	LeakFault    LeakMode = 1 // a leak faults the pump
	LeakNoFault  LeakMode = 2 // a leak is reported only
)

func (m LeakMode) String() string {
	switch m {
	case LeakDisabled:
		return "disabled"
	case LeakFault:
		return "fault"
	case LeakNoFault:
		return "no-fault"
	}
	return "unknown"
}

// Solvent compressibility in 10^-6 per bar.
var solventCompressibility = map[string]int{
	"acetonitrile":    115,
	"hexane":          167,
	"isopropanol":     84,
	"methanol":        121,
	"tetrahydrofuran": 54,
	"water":           46,
}

// SolventCompressibility looks up a solvent by name.
func SolventCompressibility(name string) (int, bool) {
	v, ok := solventCompressibility[strings.ToLower(strings.TrimSpace(name))]
	return v, ok
}

// Solvents returns the known solvent names, sorted.
func Solvents() []string {
	names := make([]string, 0, len(solventCompressibility))
	for name := range solventCompressibility {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
