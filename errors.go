package serial

import (
	"errors"
	"fmt"
)

// Reason classifies a transport failure. A Reason is itself an error, so callers
// can match any of the typed errors below with errors.Is(err, serial.PortClosed).
type Reason string

// Open-time reasons, carried by *PortError.
const (
	DeviceNotFound   Reason = "device-not-found"
	PermissionDenied Reason = "permission-denied"
	AlreadyOpen      Reason = "already-open"
	InvalidBaud      Reason = "invalid-baud"
)

// Per-operation reasons, carried by *ReadError and *WriteError.
const (
	Timeout        Reason = "timeout"
	IOFault        Reason = "io-fault"
	PortClosed     Reason = "port-closed"
	InvalidPayload Reason = "invalid-payload"
)

func (r Reason) Error() string { return string(r) }

var (
	ErrAlreadyStarted = errors.New("serial: connection already started")
	ErrUnknownDriver  = errors.New("serial: unknown driver")
)

// PortError reports a failure to open a port. It is fatal to Conn.Start.
type PortError struct {
	Port   string
	Reason Reason
	Err    error
}

func (e *PortError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("serial: open %s: %s", e.Port, e.Reason)
	}
	return fmt.Sprintf("serial: open %s: %s: %v", e.Port, e.Reason, e.Err)
}

func (e *PortError) Unwrap() error       { return e.Err }
func (e *PortError) Is(target error) bool { return target == e.Reason }
func (e *PortError) reasonCode() Reason   { return e.Reason }

// ReadError reports a failed ReadLine. Only PortClosed ends the reader loop.
type ReadError struct {
	Reason Reason
	Err    error
}

func (e *ReadError) Error() string {
	if e.Err == nil {
		return "serial: read: " + string(e.Reason)
	}
	return fmt.Sprintf("serial: read: %s: %v", e.Reason, e.Err)
}

func (e *ReadError) Unwrap() error       { return e.Err }
func (e *ReadError) Is(target error) bool { return target == e.Reason }
func (e *ReadError) reasonCode() Reason   { return e.Reason }

// WriteError reports a failed WriteLine.
type WriteError struct {
	Reason Reason
	Err    error
}

func (e *WriteError) Error() string {
	if e.Err == nil {
		return "serial: write: " + string(e.Reason)
	}
	return fmt.Sprintf("serial: write: %s: %v", e.Reason, e.Err)
}

func (e *WriteError) Unwrap() error       { return e.Err }
func (e *WriteError) Is(target error) bool { return target == e.Reason }
func (e *WriteError) reasonCode() Reason   { return e.Reason }

// ReasonOf extracts the Reason of err. Errors outside the taxonomy are IOFault.
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}
	var r interface{ reasonCode() Reason }
	if errors.As(err, &r) {
		return r.reasonCode()
	}
	var reason Reason
	if errors.As(err, &reason) {
		return reason
	}
	return IOFault
}

func readErr(reason Reason, err error) error {
	return &ReadError{Reason: reason, Err: err}
}

func writeErr(reason Reason, err error) error {
	return &WriteError{Reason: reason, Err: err}
}
