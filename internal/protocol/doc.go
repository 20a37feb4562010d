// Package protocol implements the command/response protocol spoken by
// Next Generation class HPLC pumps.
//
// Commands are short ASCII mnemonics, optionally followed by an integer
// argument, terminated by a carriage return:
//
//	FI500\r
//
// Responses start with a status token ("OK" or an error code such as
// "Er"), carry comma separated fields, and end with a forward slash:
//
//	OK,0000,5.00/
//
// The Engine drives one round trip per attempt over a Transport, retries
// transient framing failures, reports device errors immediately, and casts
// successful responses into a Record using the schema registered for the
// command's mnemonic.
package protocol
