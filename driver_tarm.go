package serial

import (
	"errors"
	"io"
	"time"

	tarm "github.com/tarm/serial"
)

func init() {
	registerDriver("tarm", openTarm)
}

func openTarm(cfg Config) (Transport, error) {
	readTimeout := cfg.ReadTimeout
	if readTimeout < 0 {
		readTimeout = 0
	}
	port, err := tarm.OpenPort(&tarm.Config{
		Name:        cfg.PortName,
		Baud:        cfg.BaudRate,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return nil, &PortError{Port: cfg.PortName, Reason: openReason(err), Err: err}
	}
	return newStreamTransport(port, cfg, tarmClassifier(readTimeout)), nil
}

// tarmClassifier: with VTIME set, an expired read surfaces as a zero-byte
// read (io.EOF from *os.File). Without a timeout a zero-byte read means the
// device hung up.
func tarmClassifier(readTimeout time.Duration) classifyFunc {
	return func(n int, err error) Reason {
		if n == 0 && (err == nil || errors.Is(err, io.EOF)) {
			if readTimeout > 0 {
				return Timeout
			}
			return PortClosed
		}
		return IOFault
	}
}
