package protocol

import (
	"bytes"
	"fmt"
	"strings"
)

const (
	// CommandEnd terminates every frame sent to the pump.
	CommandEnd byte = '\r'
	// ResponseEnd terminates every frame received from the pump.
	ResponseEnd byte = '/'

	// StatusOK is the status token of a successful response.
	StatusOK = "OK"

	// ClearBuffer clears the pump's command buffer. The pump never answers it.
	ClearBuffer = "#"
)

// Normalize trims surrounding whitespace and uppercases a command.
func Normalize(cmd string) string {
	return strings.ToUpper(strings.TrimSpace(cmd))
}

// Encode builds the wire frame for cmd.
//
//	Encode("cc")    -> "CC\r"
//	Encode("fi500") -> "FI500\r"
func Encode(cmd string) []byte {
	n := Normalize(cmd)
	frame := make([]byte, 0, len(n)+1)
	frame = append(frame, n...)
	return append(frame, CommandEnd)
}

// Decode extracts the text of the first request frame in b.
//
// Leading whitespace is skipped, anything after the frame terminator is
// dropped and the result is trimmed. The carriage return is whitespace and
// disappears, so Decode(Encode(cmd)) yields the normalized command.
//
// Decode returns a *FrameError when b holds no terminator or when the frame
// is empty.
func Decode(b []byte) (string, error) {
	data := bytes.TrimLeft(b, " \t\r\n\x00")
	i := bytes.IndexByte(data, CommandEnd)
	if i < 0 {
		if len(b) == 0 {
			return "", &FrameError{Raw: string(b), Reason: "no data before read timeout"}
		}
		return "", &FrameError{Raw: string(b), Reason: "missing terminator"}
	}

	text := strings.TrimSpace(string(data[:i]))
	if text == "" {
		return "", &FrameError{Raw: string(b), Reason: "empty frame"}
	}
	return text, nil
}

// DecodeResponse extracts the first response frame in b.
//
// Leading whitespace is skipped and anything after '/' is dropped. The
// frame keeps its '/' so the returned string is exactly what the pump sent.
// Only '/' ends a response: a control character inside the frame, such as
// a stray carriage return from line noise, makes it malformed.
//
// DecodeResponse returns a *FrameError when b holds no '/' (typically a
// read timeout), when the frame is empty or when it is corrupted.
func DecodeResponse(b []byte) (string, error) {
	data := bytes.TrimLeft(b, " \t\r\n\x00")
	i := bytes.IndexByte(data, ResponseEnd)
	if i < 0 {
		if len(b) == 0 {
			return "", &FrameError{Raw: string(b), Reason: "no data before read timeout"}
		}
		return "", &FrameError{Raw: string(b), Reason: "missing terminator"}
	}

	frame := data[:i+1]
	for _, c := range frame {
		if c < 0x20 || c == 0x7f {
			return "", &FrameError{Raw: string(b), Reason: fmt.Sprintf("control character %q in frame", c)}
		}
	}

	if i == 0 {
		return "", &FrameError{Raw: string(b), Reason: "empty frame"}
	}
	return string(frame), nil
}

// StatusToken returns the leading status token of a decoded response.
//
//	StatusToken("OK,1,0,0/") -> "OK"
//	StatusToken("Er/")       -> "Er"
func StatusToken(raw string) string {
	if i := strings.IndexAny(raw, ",/"); i >= 0 {
		return raw[:i]
	}
	return raw
}

// Mnemonic returns the alphabetic command code that selects a response
// schema, e.g. "FI" for "fi500".
func Mnemonic(cmd string) string {
	n := Normalize(cmd)
	if n == ClearBuffer {
		return n
	}
	i := 0
	for i < len(n) && n[i] >= 'A' && n[i] <= 'Z' {
		i++
	}
	return n[:i]
}
