package protocol

import (
	"errors"
	"fmt"
)

// ErrNoReply is returned by Command for the buffer clear command, which the
// pump never answers.
var ErrNoReply = errors.New("command has no reply, use Write")

// FrameError indicates bytes read from the pump did not form a complete
// response frame.
type FrameError struct {
	// Raw holds the bytes that were read, as text.
	Raw string

	// Reason describes what was wrong with the frame.
	Reason string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("malformed frame %q: %s", e.Raw, e.Reason)
}

// CommunicationError indicates that no valid frame was received before the
// attempt budget of a command ran out.
type CommunicationError struct {
	Command  string
	Attempts int

	// Response is the last text received, if any.
	Response string

	// Err is the failure of the last attempt.
	Err error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("%s: no valid response after %d attempt(s): %v", e.Command, e.Attempts, e.Err)
}

func (e *CommunicationError) Unwrap() error {
	return e.Err
}

// DeviceError indicates that the pump answered with a recognized error
// status. Device errors are deterministic and never retried.
type DeviceError struct {
	Command string

	// Code is the status token the pump returned, e.g. "Er".
	Code string

	// Response is the full decoded response.
	Response string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: pump returned error %q (response %q)", e.Command, e.Code, e.Response)
}

// ParseError indicates a correctly framed response whose fields did not
// match the schema registered for the command.
type ParseError struct {
	Command  string
	Response string

	// Field is the schema field that failed to cast, empty for count mismatches.
	Field string

	Reason string
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: cannot parse field %q of %q: %s", e.Command, e.Field, e.Response, e.Reason)
	}
	return fmt.Sprintf("%s: cannot parse %q: %s", e.Command, e.Response, e.Reason)
}

// IsDeviceError returns true if err is or wraps a *DeviceError.
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}
