package protocol

import (
	"errors"
	"fmt"
	"time"
)

// Transport is the byte channel to one pump.
//
// ReadUntil returns the bytes read up to and including term. On a read
// timeout it returns whatever arrived, possibly nothing, without an error.
type Transport interface {
	Write(p []byte) (int, error)
	ReadUntil(term byte) ([]byte, error)
	Close() error
	IsOpen() bool
}

// InputResetter is implemented by transports that can discard unread input.
// The engine clears stale bytes before every attempt when it is available.
type InputResetter interface {
	ResetInputBuffer() error
}

// Engine runs commands against a pump.
//
// Engine is not safe for concurrent use: one command owns the line from
// write to read. Callers sharing an Engine must serialize calls.
type Engine struct {
	port   Transport
	config Config
}

// NewEngine creates an Engine talking over port.
//
// Example:
//
//	eng := protocol.NewEngine(port,
//	    protocol.WithAttempts(3),
//	    protocol.WithDelays(15*time.Millisecond, 15*time.Millisecond),
//	)
func NewEngine(port Transport, opts ...Option) *Engine {
	if port == nil {
		panic("transport cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry()
	}

	return &Engine{
		port:   port,
		config: cfg,
	}
}

// Registry returns the registry used to cast responses.
func (e *Engine) Registry() *Registry {
	return e.config.Registry
}

// Command sends cmd and returns its parsed response.
//
// Every attempt writes the command, waits WriteDelay then ReadDelay, and
// reads one frame. Transport errors, timeouts, malformed frames and
// unrecognized status tokens fail the attempt; once all attempts have
// failed a *CommunicationError is returned. A recognized error status
// returns a *DeviceError and a schema mismatch a *ParseError, both without
// retrying since the frame itself arrived intact.
//
// The buffer clear command "#" has no reply and is rejected; use Write.
func (e *Engine) Command(cmd string, opts ...CallOption) (Record, error) {
	c := e.newCall(opts)
	cmd = Normalize(cmd)
	if cmd == ClearBuffer {
		return nil, ErrNoReply
	}

	var (
		lastErr  error
		lastResp string
	)
	for attempt := 1; attempt <= c.attempts; attempt++ {
		raw, err := e.roundTrip(cmd, c, attempt)
		if err != nil {
			lastErr = err
			var fe *FrameError
			if errors.As(err, &fe) {
				lastResp = fe.Raw
			}
			e.logError("attempt failed",
				"command", cmd,
				"attempt", attempt,
				"max_attempts", c.attempts,
				"error", err,
			)
			continue
		}

		status := StatusToken(raw)
		switch {
		case status == StatusOK:
			return e.config.Registry.Cast(cmd, raw)

		case e.isErrorCode(status):
			e.logError("device error",
				"command", cmd,
				"attempt", attempt,
				"response", raw,
			)
			return nil, &DeviceError{Command: cmd, Code: status, Response: raw}

		default:
			lastResp = raw
			lastErr = &FrameError{Raw: raw, Reason: fmt.Sprintf("unrecognized status %q", status)}
			e.logError("attempt failed",
				"command", cmd,
				"attempt", attempt,
				"max_attempts", c.attempts,
				"error", lastErr,
			)
		}
	}

	return nil, &CommunicationError{
		Command:  cmd,
		Attempts: c.attempts,
		Response: lastResp,
		Err:      lastErr,
	}
}

// Write sends cmd once and returns the decoded response text without
// checking its status or casting it. It is meant for debugging and for
// commands without a schema.
//
// The buffer clear command "#" gets no reply; Write returns "" after the
// write delay.
func (e *Engine) Write(cmd string, opts ...CallOption) (string, error) {
	c := e.newCall(opts)
	cmd = Normalize(cmd)

	if cmd == ClearBuffer {
		if _, err := e.port.Write(Encode(cmd)); err != nil {
			return "", fmt.Errorf("write %s: %w", cmd, err)
		}
		e.logDebug("sent", "command", cmd, "attempt", 1, "max_attempts", 1)
		e.config.Sleep(c.writeDelay)
		return "", nil
	}

	return e.roundTrip(cmd, c, 1)
}

// roundTrip performs a single write/read exchange and returns the decoded frame.
func (e *Engine) roundTrip(cmd string, c call, attempt int) (string, error) {
	if r, ok := e.port.(InputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			return "", fmt.Errorf("reset input %s: %w", cmd, err)
		}
	}

	if _, err := e.port.Write(Encode(cmd)); err != nil {
		return "", fmt.Errorf("write %s: %w", cmd, err)
	}
	e.logDebug("sent",
		"command", cmd,
		"attempt", attempt,
		"max_attempts", c.attempts,
	)

	e.config.Sleep(c.writeDelay)
	e.config.Sleep(c.readDelay)

	b, err := e.port.ReadUntil(ResponseEnd)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", cmd, err)
	}
	e.logDebug("received",
		"command", cmd,
		"attempt", attempt,
		"max_attempts", c.attempts,
		"response", string(b),
	)

	return DecodeResponse(b)
}

func (e *Engine) newCall(opts []CallOption) call {
	c := call{
		attempts:   e.config.Attempts,
		writeDelay: e.config.WriteDelay,
		readDelay:  e.config.ReadDelay,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.attempts < 1 {
		c.attempts = 1
	}
	return c
}

func (e *Engine) isErrorCode(status string) bool {
	for _, code := range e.config.ErrorCodes {
		if status == code {
			return true
		}
	}
	return false
}

// MaxBlock returns the longest a single Command can block given the
// transport's read timeout.
func (e *Engine) MaxBlock(readTimeout time.Duration) time.Duration {
	per := e.config.WriteDelay + e.config.ReadDelay + readTimeout
	return time.Duration(e.config.Attempts) * per
}

// logDebug logs a debug message if a logger is configured.
func (e *Engine) logDebug(msg string, keysAndValues ...interface{}) {
	if e.config.Logger != nil {
		e.config.Logger.Debug(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is configured.
func (e *Engine) logError(msg string, keysAndValues ...interface{}) {
	if e.config.Logger != nil {
		e.config.Logger.Error(msg, keysAndValues...)
	}
}
