package serial

import (
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultTickInterval paces Pump at roughly one poll per display frame.
	DefaultTickInterval = 16 * time.Millisecond
	DefaultFaultBackoff = 100 * time.Millisecond
	defaultStopGrace    = 100 * time.Millisecond
)

// Option configures a Conn.
type Option func(*Conn)

// WithLogger replaces the global zerolog logger. Port and driver fields are added.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Conn) { c.log = l }
}

// WithOpener opens ports with open instead of the driver registry.
// Simulators and tests use it to supply their own Transport.
func WithOpener(open Opener) Option {
	return func(c *Conn) { c.open = open }
}

// WithMailbox replaces the default last-write-wins Slot, e.g. with NewQueue(n)
// when the consumer must see every line.
func WithMailbox(m Mailbox) Option {
	return func(c *Conn) { c.mailbox = m }
}

// WithErrorHandler receives every read and write failure the Conn swallows.
// It is called from the goroutine that hit the failure.
func WithErrorHandler(fn func(error)) Option {
	return func(c *Conn) { c.onError = fn }
}

// WithFaultBackoff sets the pause after a failed read before the next attempt.
func WithFaultBackoff(d time.Duration) Option {
	return func(c *Conn) { c.faultBackoff = d }
}

// WithStopGrace sets how long Stop waits for the reader to notice the stop flag
// before closing the port under it.
func WithStopGrace(d time.Duration) Option {
	return func(c *Conn) { c.stopGrace = d }
}
