package serial

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"syscall"
)

// MaxLineLength bounds the bytes buffered while waiting for a delimiter.
const MaxLineLength = 64 * 1024

// Transport is an open serial device with line-oriented read and write.
//
// ReadLine is owned by a single reader. WriteLine may be called from any
// goroutine. Close is idempotent and may be called while ReadLine is blocked;
// drivers that can interrupt a pending read do so, the others return once
// their read timeout expires.
type Transport interface {
	// ReadLine blocks until a delimiter is seen and returns the line without it.
	// Failures are *ReadError.
	ReadLine() (string, error)
	// WriteLine appends the delimiter and writes the result. Failures are *WriteError.
	WriteLine(line string) error
	Close() error
}

// Opener opens a Transport for a validated, defaulted Config.
type Opener func(cfg Config) (Transport, error)

var drivers = map[string]Opener{}

func registerDriver(name string, open Opener) {
	drivers[name] = open
}

// Drivers returns the registered driver names.
func Drivers() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open validates cfg and opens the port with the driver it names.
// Open-time failures are *PortError.
func Open(cfg Config) (Transport, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	open, ok := drivers[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownDriver, cfg.Driver)
	}
	return open(cfg)
}

func openReason(err error) Reason {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return DeviceNotFound
	case errors.Is(err, fs.ErrPermission):
		return PermissionDenied
	case errors.Is(err, syscall.EBUSY):
		return AlreadyOpen
	}
	return IOFault
}

var errLineTooLong = fmt.Errorf("line exceeds %d bytes", MaxLineLength)

// framer splits a byte stream on a delimiter, keeping a partial line across reads.
type framer struct {
	delim   []byte
	trimCR  bool
	pending []byte

	// discarding is set after an oversized line was dropped; bytes up to and
	// including the next delimiter still belong to it.
	discarding bool
}

func newFramer(delim string) framer {
	return framer{delim: []byte(delim), trimCR: delim == "\n"}
}

func (f *framer) feed(b []byte) {
	f.pending = append(f.pending, b...)
}

// next pops one complete line. An oversized line is reported once as an
// IOFault and the rest of it is dropped up to the next delimiter.
func (f *framer) next() (string, bool, error) {
	for {
		idx := bytes.Index(f.pending, f.delim)
		if f.discarding {
			if idx < 0 {
				f.keepDelimPrefix()
				return "", false, nil
			}
			f.pending = f.pending[idx+len(f.delim):]
			f.discarding = false
			continue
		}
		if idx < 0 {
			if len(f.pending) > MaxLineLength {
				f.keepDelimPrefix()
				f.discarding = true
				return "", false, readErr(IOFault, errLineTooLong)
			}
			return "", false, nil
		}
		if idx > MaxLineLength {
			f.pending = f.pending[idx+len(f.delim):]
			return "", false, readErr(IOFault, errLineTooLong)
		}
		line := f.pending[:idx]
		if f.trimCR {
			line = bytes.TrimSuffix(line, []byte{'\r'})
		}
		s := string(line)
		f.pending = f.pending[idx+len(f.delim):]
		return s, true, nil
	}
}

// keepDelimPrefix drops pending bytes except for a tail that may start a
// multi-byte delimiter.
func (f *framer) keepDelimPrefix() {
	keep := len(f.delim) - 1
	if len(f.pending) <= keep {
		return
	}
	f.pending = append(f.pending[:0], f.pending[len(f.pending)-keep:]...)
}

// frame appends the delimiter. Payloads carrying the delimiter would be split
// by the peer, so they are rejected.
func (f *framer) frame(line string) ([]byte, error) {
	if bytes.Contains([]byte(line), f.delim) {
		return nil, writeErr(InvalidPayload, fmt.Errorf("payload contains delimiter %q", f.delim))
	}
	b := make([]byte, 0, len(line)+len(f.delim))
	b = append(b, line...)
	return append(b, f.delim...), nil
}
