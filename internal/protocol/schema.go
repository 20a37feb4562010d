package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind selects how a response field is cast.
type Kind string

const (
	KindFloat  Kind = "float"
	KindInt    Kind = "int"
	KindBool   Kind = "bool"
	KindString Kind = "string"

	// KindPressure is an int when the registry's pressure unit is psi and a
	// float64 for bar and MPa.
	KindPressure Kind = "pressure"
)

// Field describes one positional response field.
type Field struct {
	Name string `yaml:"name" json:"name"`
	Kind Kind   `yaml:"kind" json:"kind"`

	// Omit marks a field that is present on the wire but carries no meaning
	// for the pump model, e.g. a fixed 0 placeholder. It is counted but not
	// cast or returned.
	Omit bool `yaml:"omit" json:"omit"`
}

// Schema is the field grammar of one command's response.
type Schema struct {
	// Prefix is a label in front of the first field, e.g. "MF:" in "OK,MF:10.00/".
	Prefix string  `yaml:"prefix" json:"prefix"`
	Fields []Field `yaml:"fields" json:"fields"`
}

func omit() Field { return Field{Omit: true} }

// DefaultSchemas returns the response grammar of the Next Generation
// command set, keyed by mnemonic.
func DefaultSchemas() map[string]Schema {
	return map[string]Schema{
		// OK,<pressure>,<flow>/
		"CC": {Fields: []Field{
			{Name: "pressure", Kind: KindPressure},
			{Name: "flowrate", Kind: KindFloat},
		}},
		// OK,<flow>,<UPL>,<LPL>,<p_units>,0,<R/S>,0/
		"CS": {Fields: []Field{
			{Name: "flowrate", Kind: KindFloat},
			{Name: "upper_pressure_limit", Kind: KindFloat},
			{Name: "lower_pressure_limit", Kind: KindFloat},
			{Name: "pressure_units", Kind: KindString},
			omit(),
			{Name: "is_running", Kind: KindBool},
			omit(),
		}},
		// OK,<flow>,<R/S>,<p_comp>,<head>,0,1,0,0,<UPF>,<LPF>,<prime>,<keypad>,0,0,0,0,<stall>/
		"PI": {Fields: []Field{
			{Name: "flowrate", Kind: KindFloat},
			{Name: "is_running", Kind: KindBool},
			{Name: "pressure_compensation", Kind: KindFloat},
			{Name: "head", Kind: KindString},
			omit(), omit(), omit(), omit(),
			{Name: "upper_pressure_fault", Kind: KindBool},
			{Name: "lower_pressure_fault", Kind: KindBool},
			{Name: "in_prime", Kind: KindBool},
			{Name: "keypad_enabled", Kind: KindBool},
			omit(), omit(), omit(), omit(),
			{Name: "motor_stall_fault", Kind: KindBool},
		}},
		// OK,<stall>,<UPF>,<LPF>/
		"RF": {Fields: []Field{
			{Name: "motor_stall_fault", Kind: KindBool},
			{Name: "upper_pressure_fault", Kind: KindBool},
			{Name: "lower_pressure_fault", Kind: KindBool},
		}},
		"PR": {Fields: []Field{{Name: "pressure", Kind: KindPressure}}},
		// OK,<ID> Version <ver>/
		"ID": {Fields: []Field{{Name: "version", Kind: KindString}}},
		"MF": {Prefix: "MF:", Fields: []Field{{Name: "max_flowrate", Kind: KindFloat}}},
		"MP": {Prefix: "MP:", Fields: []Field{{Name: "max_pressure", Kind: KindFloat}}},
		"PU": {Fields: []Field{{Name: "pressure_units", Kind: KindString}}},
		"GS": {Prefix: "GS:", Fields: []Field{{Name: "stroke_counter", Kind: KindInt}}},
		"UC": {Prefix: "UC:", Fields: []Field{{Name: "flowrate_compensation", Kind: KindInt}}},
		"UP": {Prefix: "UP:", Fields: []Field{{Name: "upper_pressure_limit", Kind: KindFloat}}},
		"LP": {Prefix: "LP:", Fields: []Field{{Name: "lower_pressure_limit", Kind: KindFloat}}},
		"LS": {Prefix: "LS:", Fields: []Field{{Name: "leak_detected", Kind: KindBool}}},
		"LM": {Prefix: "LM:", Fields: []Field{{Name: "leak_mode", Kind: KindInt}}},
		"RS": {Fields: []Field{{Name: "solvent", Kind: KindInt}}},
	}
}

// ParseSchemas reads schema overrides from YAML:
//
//	pi:
//	  fields:
//	    - {name: flowrate, kind: float}
//	    - {omit: true}
//
// Mnemonics are normalized to upper case.
func ParseSchemas(data []byte) (map[string]Schema, error) {
	var raw map[string]Schema
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse schemas: %w", err)
	}

	out := make(map[string]Schema, len(raw))
	for name, s := range raw {
		mnemonic := Normalize(name)
		if mnemonic == "" {
			return nil, fmt.Errorf("parse schemas: empty mnemonic")
		}
		for i, f := range s.Fields {
			if f.Omit {
				continue
			}
			if f.Name == "" {
				return nil, fmt.Errorf("parse schemas: %s field %d has no name", mnemonic, i)
			}
			switch f.Kind {
			case KindFloat, KindInt, KindBool, KindString, KindPressure:
			default:
				return nil, fmt.Errorf("parse schemas: %s field %q has unknown kind %q", mnemonic, f.Name, f.Kind)
			}
		}
		out[mnemonic] = s
	}
	return out, nil
}

// Registry maps mnemonics to schemas and casts responses.
//
// A Registry is configured once (schemas, pressure unit) and then only
// read; it is not safe for concurrent mutation.
type Registry struct {
	schemas      map[string]Schema
	pressureUnit string
}

// NewRegistry creates a registry holding schemas.
func NewRegistry(schemas map[string]Schema) *Registry {
	r := &Registry{schemas: make(map[string]Schema, len(schemas))}
	r.Merge(schemas)
	return r
}

// DefaultRegistry creates a registry holding DefaultSchemas.
func DefaultRegistry() *Registry {
	return NewRegistry(DefaultSchemas())
}

// Register sets the schema of one mnemonic.
func (r *Registry) Register(mnemonic string, s Schema) {
	r.schemas[Normalize(mnemonic)] = s
}

// Merge registers every schema in m, replacing existing entries.
func (r *Registry) Merge(m map[string]Schema) {
	for name, s := range m {
		r.Register(name, s)
	}
}

// SetPressureUnit sets the unit that decides how KindPressure fields are cast.
func (r *Registry) SetPressureUnit(unit string) {
	r.pressureUnit = unit
}

// PressureUnit returns the unit set with SetPressureUnit.
func (r *Registry) PressureUnit() string {
	return r.pressureUnit
}

// Cast converts a decoded "OK" response to cmd into a Record.
//
// The status token is stripped, the remainder split on ',' and each field
// cast positionally. Omitted fields are counted but left out of the
// Record. Commands without a registered schema yield a Record holding only
// the response. A field count or cast mismatch returns a *ParseError.
func (r *Registry) Cast(cmd, raw string) (Record, error) {
	rec := Record{ResponseKey: raw}

	cmd = Normalize(cmd)
	schema, ok := r.schemas[Mnemonic(cmd)]
	if !ok {
		return rec, nil
	}

	body := strings.TrimSuffix(raw, string(ResponseEnd))
	body = strings.TrimPrefix(body, StatusToken(raw))
	body = strings.TrimPrefix(body, ",")

	var values []string
	if body != "" {
		values = strings.Split(body, ",")
	}
	if len(values) != len(schema.Fields) {
		return nil, &ParseError{
			Command:  cmd,
			Response: raw,
			Reason:   fmt.Sprintf("expected %d field(s), got %d", len(schema.Fields), len(values)),
		}
	}

	if schema.Prefix != "" && len(values) > 0 {
		if !strings.HasPrefix(values[0], schema.Prefix) {
			return nil, &ParseError{
				Command:  cmd,
				Response: raw,
				Reason:   fmt.Sprintf("missing label %q", schema.Prefix),
			}
		}
		values[0] = strings.TrimPrefix(values[0], schema.Prefix)
	}

	for i, f := range schema.Fields {
		if f.Omit {
			continue
		}
		v, err := r.castField(f.Kind, values[i])
		if err != nil {
			return nil, &ParseError{Command: cmd, Response: raw, Field: f.Name, Reason: err.Error()}
		}
		rec[f.Name] = v
	}
	return rec, nil
}

func (r *Registry) castField(kind Kind, s string) (any, error) {
	switch kind {
	case KindFloat:
		return castFloat(s)
	case KindInt:
		return castInt(s)
	case KindBool:
		return castBool(s)
	case KindString:
		return s, nil
	case KindPressure:
		if strings.EqualFold(r.pressureUnit, "psi") {
			return castInt(s)
		}
		return castFloat(s)
	}
	return nil, fmt.Errorf("unknown field kind %q", kind)
}

// castBool accepts exactly "0" and "1".
func castBool(s string) (bool, error) {
	switch s {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}
	return false, fmt.Errorf("not a 0/1 flag: %q", s)
}

func castFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if !isDecimal(s, true) {
		return 0, fmt.Errorf("not a decimal number: %q", s)
	}
	return strconv.ParseFloat(s, 64)
}

func castInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if !isDecimal(s, false) {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return strconv.Atoi(s)
}

// isDecimal reports whether s is an optionally negative run of digits with
// at most one decimal point (none unless point is set).
func isDecimal(s string, point bool) bool {
	s = strings.TrimPrefix(s, "-")
	digits, points := 0, 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '.' && point:
			points++
		default:
			return false
		}
	}
	return digits > 0 && points <= 1
}
