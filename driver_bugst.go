package serial

import (
	"errors"

	bugst "go.bug.st/serial"
)

func init() {
	registerDriver("bugst", openBugst)
}

// openBugstPort is swapped in tests.
var openBugstPort = func(name string, mode *bugst.Mode) (bugst.Port, error) {
	return bugst.Open(name, mode)
}

func openBugst(cfg Config) (Transport, error) {
	port, err := openBugstPort(cfg.PortName, &bugst.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	})
	if err != nil {
		return nil, &PortError{Port: cfg.PortName, Reason: bugstOpenReason(err), Err: err}
	}
	// go.bug.st uses -1 for "no timeout" as well.
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, &PortError{Port: cfg.PortName, Reason: IOFault, Err: err}
	}
	return newStreamTransport(port, cfg, classifyBugst), nil
}

// bugstCode unwraps a go.bug.st PortError, returned by pointer or by value.
func bugstCode(err error) (bugst.PortErrorCode, bool) {
	var ptr *bugst.PortError
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Code(), true
	}
	var val bugst.PortError
	if errors.As(err, &val) {
		return val.Code(), true
	}
	return 0, false
}

func bugstOpenReason(err error) Reason {
	code, ok := bugstCode(err)
	if !ok {
		return openReason(err)
	}
	switch code {
	case bugst.PortNotFound, bugst.InvalidSerialPort:
		return DeviceNotFound
	case bugst.PermissionDenied:
		return PermissionDenied
	case bugst.PortBusy:
		return AlreadyOpen
	case bugst.InvalidSpeed:
		return InvalidBaud
	default:
		return IOFault
	}
}

// classifyBugst: go.bug.st returns (0, nil) when the read timeout expires.
func classifyBugst(n int, err error) Reason {
	if err == nil {
		return Timeout
	}
	if code, ok := bugstCode(err); ok && code == bugst.PortClosed {
		return PortClosed
	}
	return IOFault
}

// Ports lists the serial ports present on the system.
func Ports() ([]string, error) {
	return bugst.GetPortsList()
}
