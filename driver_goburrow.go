package serial

import (
	"errors"

	goburrow "github.com/goburrow/serial"
)

func init() {
	registerDriver("goburrow", openGoburrow)
}

func openGoburrow(cfg Config) (Transport, error) {
	timeout := cfg.ReadTimeout
	if timeout < 0 {
		timeout = 0
	}
	port, err := goburrow.Open(&goburrow.Config{
		Address:  cfg.PortName,
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  timeout,
	})
	if err != nil {
		return nil, &PortError{Port: cfg.PortName, Reason: openReason(err), Err: err}
	}
	return newStreamTransport(port, cfg, classifyGoburrow), nil
}

// classifyGoburrow relies on goburrow reporting an expired select as
// ErrTimeout, so an empty read without error is end of file.
func classifyGoburrow(n int, err error) Reason {
	switch {
	case errors.Is(err, goburrow.ErrTimeout):
		return Timeout
	case err == nil && n == 0:
		return PortClosed
	}
	return IOFault
}
