package protocol

// ResponseKey is the Record entry holding the raw decoded response.
const ResponseKey = "response"

// Record is a parsed pump response: field name to typed value. Values are
// float64, int, bool or string. Every Record holds the unmodified response
// text under ResponseKey.
type Record map[string]any

// Response returns the raw decoded response text.
func (r Record) Response() string {
	s, _ := r[ResponseKey].(string)
	return s
}

// Float returns a float64 field.
func (r Record) Float(name string) (float64, bool) {
	v, ok := r[name].(float64)
	return v, ok
}

// Int returns an int field.
func (r Record) Int(name string) (int, bool) {
	v, ok := r[name].(int)
	return v, ok
}

// Number returns an int or float64 field as a float64. Pressure fields are
// ints or floats depending on the pump's pressure unit.
func (r Record) Number(name string) (float64, bool) {
	switch v := r[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Bool returns a bool field.
func (r Record) Bool(name string) (bool, bool) {
	v, ok := r[name].(bool)
	return v, ok
}

// Text returns a string field.
func (r Record) Text(name string) (string, bool) {
	v, ok := r[name].(string)
	return v, ok
}
