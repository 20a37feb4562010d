package protocol

import "time"

// Config holds the engine configuration.
type Config struct {
	// Attempts is the number of round trips a command may take before
	// failing with a CommunicationError.
	Attempts int

	// WriteDelay is slept after writing a command.
	WriteDelay time.Duration

	// ReadDelay is slept again before reading the response. The pumps are
	// documented to need time to settle on both sides of a write.
	ReadDelay time.Duration

	// ErrorCodes are the status tokens the pump uses to report errors.
	// Any other non-OK token is treated as line noise and retried.
	ErrorCodes []string

	// Registry casts successful responses.
	Registry *Registry

	// Logger receives trace events (optional)
	Logger Logger

	// Sleep waits between write and read. Defaults to time.Sleep.
	Sleep func(time.Duration)
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		Attempts:   3,
		WriteDelay: 15 * time.Millisecond,
		ReadDelay:  15 * time.Millisecond,
		ErrorCodes: []string{"Er"},
		Sleep:      time.Sleep,
	}
}

// Option is a functional option for configuring the Engine.
type Option func(*Config)

// WithAttempts sets how many round trips a command may take. Values below
// one are ignored.
//
// Example:
//
//	eng := protocol.NewEngine(port, protocol.WithAttempts(5))
func WithAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Attempts = n
		}
	}
}

// WithDelays sets the delay after writing a command and the delay before
// reading its response.
func WithDelays(write, read time.Duration) Option {
	return func(c *Config) {
		if write >= 0 {
			c.WriteDelay = write
		}
		if read >= 0 {
			c.ReadDelay = read
		}
	}
}

// WithErrorCodes replaces the status tokens recognized as device errors.
func WithErrorCodes(codes ...string) Option {
	return func(c *Config) {
		c.ErrorCodes = append([]string(nil), codes...)
	}
}

// WithRegistry sets the schema registry used to cast responses.
func WithRegistry(r *Registry) Option {
	return func(c *Config) {
		c.Registry = r
	}
}

// WithLogger sets a logger for trace events.
//
// Example:
//
//	eng := protocol.NewEngine(port, protocol.WithLogger(logger.NewTrace(log)))
func WithLogger(l Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithSleep replaces time.Sleep, mostly for tests.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Config) {
		if sleep != nil {
			c.Sleep = sleep
		}
	}
}

// call holds the settings of a single Command or Write.
type call struct {
	attempts   int
	writeDelay time.Duration
	readDelay  time.Duration
}

// CallOption overrides engine settings for one call.
type CallOption func(*call)

// Attempts overrides the attempt budget of one call.
func Attempts(n int) CallOption {
	return func(c *call) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// Delay overrides both the write and the read delay of one call.
func Delay(d time.Duration) CallOption {
	return func(c *call) {
		if d >= 0 {
			c.writeDelay = d
			c.readDelay = d
		}
	}
}

// Logger is an optional logging interface that can be provided to the engine.
// This allows integration with any logging framework.
//
// The engine reports every attempt at debug level with the keys
// "command", "attempt", "max_attempts" and, once read, "response".
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...interface{})

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...interface{})

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...interface{})
}
