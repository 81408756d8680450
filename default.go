package serial

import (
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

var defaultConn atomic.Pointer[Conn]

// SetDefault makes c the target of the package-level Write. Pass nil to clear it.
func SetDefault(c *Conn) { defaultConn.Store(c) }

// Default returns the Conn set by SetDefault, or nil.
func Default() *Conn { return defaultConn.Load() }

// Write sends message on the default Conn, fire-and-forget. Without a default
// Conn the write is logged as a closed-port failure.
func Write(message string) {
	if c := Default(); c != nil {
		c.Write(message)
		return
	}
	log.Warn().Err(writeErr(PortClosed, nil)).Msg("serial: no default connection")
}
