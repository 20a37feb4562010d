package pump

import "github.com/shaunagostinho/hplc-pump/internal/protocol"

type options struct {
	name       string
	logger     protocol.Logger
	schemas    map[string]protocol.Schema
	engineOpts []protocol.Option
}

// Option configures a Pump.
type Option func(*options)

// WithName labels the pump in log output, e.g. with its port path.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithLogger sets the trace sink for the pump and its engine.
func WithLogger(l protocol.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithSchemas merges schema overrides over the default schemas, for
// models whose responses carry different placeholders.
func WithSchemas(schemas map[string]protocol.Schema) Option {
	return func(o *options) {
		o.schemas = schemas
	}
}

// WithEngineOptions passes options through to the protocol engine. The
// pump keeps its own registry, so a protocol.WithRegistry given here has no
// effect; use WithSchemas instead.
//
//	p, err := pump.New(port, pump.WithEngineOptions(protocol.WithAttempts(5)))
func WithEngineOptions(opts ...protocol.Option) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, opts...)
	}
}
