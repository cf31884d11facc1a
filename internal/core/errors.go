// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors, compared with errors.Is.
var (
	// Packet errors
	ErrPacketTooShort   = errors.New("xnet: packet too short")
	ErrUnsupportedProto = errors.New("xnet: unsupported protocol")
	ErrMalformedHeader  = errors.New("xnet: malformed header")

	// Buffer errors
	ErrNoHeadroom      = errors.New("xnet: insufficient buffer headroom")
	ErrBufferOverflow  = errors.New("xnet: buffer capacity exceeded")
	ErrBufferUnderflow = errors.New("xnet: buffer shorter than requested length")

	// Table errors
	ErrTableFull = errors.New("xnet: table full")

	// Port and connection errors
	ErrPortInUse   = errors.New("xnet: port already open")
	ErrPortNotOpen = errors.New("xnet: port not open")
	ErrConnClosed  = errors.New("xnet: connection not established")

	// Driver errors
	ErrDriverClosed = errors.New("xnet: driver closed")

	// Configuration errors
	ErrConfigInvalid = errors.New("xnet: invalid configuration")
)
