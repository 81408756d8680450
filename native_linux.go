//go:build linux

package serial

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

const defaultDriver = "native"

func init() {
	registerDriver("native", openNative)
}

var (
	errWaitTimeout = errors.New("poll timeout")
	errWaitClosed  = errors.New("port closed")
	errHangup      = errors.New("device hung up")
)

// nativePort provides low-latency, killable, line-oriented access to a Linux serial port
// through raw syscalls. A self-pipe wakes any goroutine parked in poll when Close is called.
type nativePort struct {
	fd     int
	cfg    Config
	pipeR  int // self-pipe read fd
	pipeW  int // self-pipe write fd
	closed atomic.Bool

	// ioMu is held shared by ReadLine and WriteLine and exclusively by Close,
	// so the fd is never closed (and reused) under a pending syscall.
	ioMu      sync.RWMutex
	wmu       sync.Mutex
	closeOnce sync.Once

	fr  framer
	buf []byte
}

func openNative(cfg Config) (Transport, error) {
	speed, ok := baudToUnix(cfg.BaudRate)
	if !ok {
		return nil, &PortError{Port: cfg.PortName, Reason: InvalidBaud, Err: fmt.Errorf("unsupported baud rate %d", cfg.BaudRate)}
	}

	fd, err := unix.Open(cfg.PortName, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &PortError{Port: cfg.PortName, Reason: openReason(err), Err: err}
	}
	fail := func(reason Reason, err error) (Transport, error) {
		unix.IoctlSetInt(fd, unix.TIOCNXCL, 0)
		unix.Close(fd)
		return nil, &PortError{Port: cfg.PortName, Reason: reason, Err: err}
	}

	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return fail(AlreadyOpen, err)
		}
		return fail(IOFault, fmt.Errorf("flock: %w", err))
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fail(DeviceNotFound, fmt.Errorf("get termios: %w", err))
	}

	// flock only binds cooperating processes; TIOCEXCL makes any further
	// open of the tty fail with EBUSY until Close.
	if err := unix.IoctlSetInt(fd, unix.TIOCEXCL, 0); err != nil {
		return fail(IOFault, fmt.Errorf("set exclusive: %w", err))
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= speed
	termios.Ispeed = speed
	termios.Ospeed = speed

	// Timeouts are handled by poll, so the tty returns whatever is available.
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fail(IOFault, fmt.Errorf("set termios: %w", err))
	}

	pipeFds := make([]int, 2)
	if err := unix.Pipe2(pipeFds, unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return fail(IOFault, fmt.Errorf("pipe: %w", err))
	}

	return &nativePort{
		fd:    fd,
		cfg:   cfg,
		pipeR: pipeFds[0],
		pipeW: pipeFds[1],
		fr:    newFramer(cfg.Delimiter),
		buf:   make([]byte, 4096),
	}, nil
}

// wait polls the port for events alongside the self-pipe.
func (p *nativePort) wait(events int16, timeout time.Duration) (int16, error) {
	ms := -1
	if timeout > 0 {
		ms = int(timeout / time.Millisecond)
		if ms == 0 {
			ms = 1
		}
	}
	pfd := []unix.PollFd{
		{Fd: int32(p.fd), Events: events},
		{Fd: int32(p.pipeR), Events: unix.POLLIN},
	}
	for {
		n, err := unix.Poll(pfd, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, errWaitTimeout
		}
		if pfd[1].Revents != 0 || p.closed.Load() {
			return 0, errWaitClosed
		}
		return pfd[0].Revents, nil
	}
}

// ReadLine reads a single line, blocking until a full line is received, the
// read timeout expires, or the port is closed. Bytes of a partial line are kept
// for the next call.
func (p *nativePort) ReadLine() (string, error) {
	p.ioMu.RLock()
	defer p.ioMu.RUnlock()

	for {
		line, ok, err := p.fr.next()
		if err != nil {
			return "", err
		}
		if ok {
			return line, nil
		}
		if p.closed.Load() {
			return "", readErr(PortClosed, nil)
		}

		revents, err := p.wait(unix.POLLIN, p.cfg.ReadTimeout)
		switch {
		case errors.Is(err, errWaitTimeout):
			return "", readErr(Timeout, nil)
		case errors.Is(err, errWaitClosed):
			return "", readErr(PortClosed, nil)
		case err != nil:
			return "", readErr(IOFault, err)
		}

		if revents&unix.POLLIN != 0 {
			n, err := unix.Read(p.fd, p.buf)
			switch {
			case errors.Is(err, unix.EAGAIN):
				continue
			case errors.Is(err, unix.EIO):
				return "", readErr(PortClosed, fmt.Errorf("%w: %v", errHangup, err))
			case err != nil:
				return "", readErr(IOFault, err)
			case n == 0:
				return "", readErr(PortClosed, errHangup)
			}
			p.fr.feed(p.buf[:n])
			continue
		}
		if revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			return "", readErr(PortClosed, errHangup)
		}
	}
}

// WriteLine writes line plus the configured delimiter. A full output buffer
// is waited on for at most WriteTimeout.
func (p *nativePort) WriteLine(line string) error {
	b, err := p.fr.frame(line)
	if err != nil {
		return err
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()
	p.ioMu.RLock()
	defer p.ioMu.RUnlock()

	for len(b) > 0 {
		if p.closed.Load() {
			return writeErr(PortClosed, nil)
		}
		n, err := unix.Write(p.fd, b)
		if n > 0 {
			b = b[n:]
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, unix.EAGAIN):
			revents, werr := p.wait(unix.POLLOUT, p.cfg.WriteTimeout)
			switch {
			case errors.Is(werr, errWaitTimeout):
				return writeErr(IOFault, fmt.Errorf("write timeout after %v", p.cfg.WriteTimeout))
			case errors.Is(werr, errWaitClosed):
				return writeErr(PortClosed, nil)
			case werr != nil:
				return writeErr(IOFault, werr)
			case revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0:
				return writeErr(PortClosed, errHangup)
			}
		case errors.Is(err, unix.EIO):
			return writeErr(PortClosed, fmt.Errorf("%w: %v", errHangup, err))
		default:
			return writeErr(IOFault, err)
		}
	}
	return nil
}

// Close closes the serial port and unblocks any pending ReadLine or WriteLine.
// Safe to call multiple times; subsequent calls are no-ops.
func (p *nativePort) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		// Wake up poll using self-pipe
		unix.Write(p.pipeW, []byte{1})

		p.ioMu.Lock()
		defer p.ioMu.Unlock()
		// The tty keeps TIOCEXCL while other handles stay open.
		unix.IoctlSetInt(p.fd, unix.TIOCNXCL, 0)
		err = unix.Close(p.fd)
		unix.Close(p.pipeR)
		unix.Close(p.pipeW)
	})
	return err
}

func baudToUnix(baud int) (uint32, bool) {
	switch baud {
	case 1200:
		return unix.B1200, true
	case 2400:
		return unix.B2400, true
	case 4800:
		return unix.B4800, true
	case 9600:
		return unix.B9600, true
	case 19200:
		return unix.B19200, true
	case 38400:
		return unix.B38400, true
	case 57600:
		return unix.B57600, true
	case 115200:
		return unix.B115200, true
	case 230400:
		return unix.B230400, true
	case 460800:
		return unix.B460800, true
	case 921600:
		return unix.B921600, true
	default:
		return 0, false
	}
}
