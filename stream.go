package serial

import (
	"errors"
	"io"
	"os"
	"sync"

	"go.uber.org/atomic"
)

// classifyFunc maps a driver's read result to a Reason. It is consulted only
// when the read returned no data or an error.
type classifyFunc func(n int, err error) Reason

// streamTransport frames lines over a third-party port that behaves as an
// io.ReadWriteCloser with a read timeout.
type streamTransport struct {
	port     io.ReadWriteCloser
	classify classifyFunc

	fr  framer
	buf []byte

	wmu       sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

func newStreamTransport(port io.ReadWriteCloser, cfg Config, classify classifyFunc) *streamTransport {
	return &streamTransport{
		port:     port,
		classify: classify,
		fr:       newFramer(cfg.Delimiter),
		buf:      make([]byte, 4096),
	}
}

func (s *streamTransport) ReadLine() (string, error) {
	for {
		line, ok, err := s.fr.next()
		if err != nil {
			return "", err
		}
		if ok {
			return line, nil
		}
		if s.closed.Load() {
			return "", readErr(PortClosed, nil)
		}

		n, err := s.port.Read(s.buf)
		if n > 0 {
			s.fr.feed(s.buf[:n])
			continue
		}
		if s.closed.Load() || errors.Is(err, os.ErrClosed) {
			return "", readErr(PortClosed, err)
		}
		return "", readErr(s.classify(n, err), err)
	}
}

func (s *streamTransport) WriteLine(line string) error {
	b, err := s.fr.frame(line)
	if err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.closed.Load() {
		return writeErr(PortClosed, nil)
	}
	if _, err := s.port.Write(b); err != nil {
		if s.closed.Load() || errors.Is(err, os.ErrClosed) {
			return writeErr(PortClosed, err)
		}
		return writeErr(IOFault, err)
	}
	return nil
}

func (s *streamTransport) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.port.Close()
	})
	return err
}
