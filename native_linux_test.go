//go:build linux

package serial

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
)

// openPTY opens the slave side of a fresh PTY pair with the native driver and
// returns the master, which plays the device.
func openPTY(t *testing.T, cfg Config) (*os.File, string, Transport) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	cfg.PortName = slave.Name()
	cfg.Driver = "native"
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	port, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { port.Close() })
	return master, slave.Name(), port
}

type lineResult struct {
	line string
	err  error
}

func readAsync(port Transport) <-chan lineResult {
	ch := make(chan lineResult, 1)
	go func() {
		line, err := port.ReadLine()
		ch <- lineResult{line, err}
	}()
	return ch
}

func TestNative_ChatMasterSlave(t *testing.T) {
	master, _, port := openPTY(t, Config{ReadTimeout: NoTimeout})

	// 1. Master writes to slave, the port should receive
	got := readAsync(port)
	_, err := master.Write([]byte("ping\n"))
	require.NoError(t, err)

	select {
	case r := <-got:
		require.NoError(t, r.err)
		require.Equal(t, "ping", r.line)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for slave to receive from master")
	}

	// 2. The port writes to master, master should receive
	require.NoError(t, port.WriteLine("pong"))

	buf := make([]byte, 128)
	n, err := master.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "pong\n", string(buf[:n]))
}

func TestNative_SeveralLinesInOneRead(t *testing.T) {
	master, _, port := openPTY(t, Config{ReadTimeout: time.Second})

	_, err := master.Write([]byte("a\nb\nc\n"))
	require.NoError(t, err)

	for _, want := range []string{"a", "b", "c"} {
		line, err := port.ReadLine()
		require.NoError(t, err)
		require.Equal(t, want, line)
	}
}

func TestNative_TimeoutKeepsPartialLine(t *testing.T) {
	master, _, port := openPTY(t, Config{ReadTimeout: 50 * time.Millisecond})

	_, err := master.Write([]byte("hel"))
	require.NoError(t, err)

	_, err = port.ReadLine()
	require.ErrorIs(t, err, Timeout)

	_, err = master.Write([]byte("lo\n"))
	require.NoError(t, err)

	line, err := port.ReadLine()
	require.NoError(t, err)
	require.Equal(t, "hello", line)
}

func TestNative_TrimsCarriageReturn(t *testing.T) {
	master, _, port := openPTY(t, Config{ReadTimeout: time.Second})

	_, err := master.Write([]byte("100,23.5\r\n"))
	require.NoError(t, err)

	line, err := port.ReadLine()
	require.NoError(t, err)
	require.Equal(t, "100,23.5", line)
}

func TestNative_CustomDelimiter(t *testing.T) {
	master, _, port := openPTY(t, Config{ReadTimeout: time.Second, Delimiter: "\r\n"})

	_, err := master.Write([]byte("C,INFO\r\n"))
	require.NoError(t, err)
	line, err := port.ReadLine()
	require.NoError(t, err)
	require.Equal(t, "C,INFO", line)

	require.NoError(t, port.WriteLine("C,START"))
	buf := make([]byte, 16)
	n, err := master.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "C,START\r\n", string(buf[:n]))
}

func TestNative_Killability(t *testing.T) {
	_, _, port := openPTY(t, Config{ReadTimeout: NoTimeout})

	got := readAsync(port)

	// Give the goroutine a chance to block
	time.Sleep(50 * time.Millisecond)

	// Now close the port, which should unblock the read
	require.NoError(t, port.Close())

	select {
	case r := <-got:
		require.ErrorIs(t, r.err, PortClosed)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for ReadLine to return after Close")
	}

	// Should be a no-op due to closeOnce
	require.NoError(t, port.Close())

	_, err := port.ReadLine()
	require.ErrorIs(t, err, PortClosed)
	require.ErrorIs(t, port.WriteLine("late"), PortClosed)
}

func TestNative_HangupIsPortClosed(t *testing.T) {
	master, _, port := openPTY(t, Config{ReadTimeout: NoTimeout})

	got := readAsync(port)

	// Simulate device disconnect by closing master
	require.NoError(t, master.Close())

	select {
	case r := <-got:
		require.ErrorIs(t, r.err, PortClosed)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for error after device disconnect")
	}
}

func TestNative_RejectsDelimiterInPayload(t *testing.T) {
	_, _, port := openPTY(t, Config{})

	err := port.WriteLine("a\nb")
	require.ErrorIs(t, err, InvalidPayload)

	var werr *WriteError
	require.True(t, errors.As(err, &werr))
}

func TestNative_OpenErrors(t *testing.T) {
	_, err := Open(Config{PortName: filepath.Join(t.TempDir(), "ttyNONE"), BaudRate: 9600, Driver: "native"})
	require.ErrorIs(t, err, DeviceNotFound)

	_, name, _ := openPTY(t, Config{})

	_, err = Open(Config{PortName: name, BaudRate: 12345, Driver: "native"})
	require.ErrorIs(t, err, InvalidBaud)

	_, err = Open(Config{PortName: name, BaudRate: 9600, Driver: "native"})
	require.ErrorIs(t, err, AlreadyOpen)

	var perr *PortError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, name, perr.Port)
}

func TestNative_ExclusiveAgainstPlainOpen(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses TIOCEXCL")
	}
	_, name, port := openPTY(t, Config{})

	f, err := os.OpenFile(name, os.O_RDWR|syscall.O_NOCTTY, 0)
	if err == nil {
		f.Close()
	}
	require.ErrorIs(t, err, syscall.EBUSY)
	require.Equal(t, AlreadyOpen, openReason(err))

	require.NoError(t, port.Close())
	f, err = os.OpenFile(name, os.O_RDWR|syscall.O_NOCTTY, 0)
	require.NoError(t, err)
	f.Close()
}

func TestNative_ReopenAfterClose(t *testing.T) {
	_, name, port := openPTY(t, Config{})
	require.NoError(t, port.Close())

	again, err := Open(Config{PortName: name, BaudRate: 9600, Driver: "native"})
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestConn_PTYEndToEnd(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	conn := NewConn(Config{
		PortName:    slave.Name(),
		BaudRate:    9600,
		Driver:      "native",
		ReadTimeout: 20 * time.Millisecond,
	}, WithLogger(testLogger(t)))
	require.NoError(t, conn.Start())
	t.Cleanup(func() { conn.Stop() })

	_, err = master.Write([]byte("100,23.5\r\n"))
	require.NoError(t, err)

	var line string
	require.Eventually(t, func() bool {
		var ok bool
		line, ok = conn.Poll()
		return ok
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, "100,23.5", line)

	conn.Write("abc")
	buf := make([]byte, 16)
	n, err := master.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "abc\n", string(buf[:n]))

	require.NoError(t, conn.Stop())
	require.Equal(t, StateStopped, conn.State())
	require.ErrorIs(t, conn.WriteLine("after"), PortClosed)
}

func TestConn_StopUnblocksStalledWrite(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	conn := NewConn(Config{
		PortName:     slave.Name(),
		BaudRate:     9600,
		Driver:       "native",
		ReadTimeout:  20 * time.Millisecond,
		WriteTimeout: NoTimeout,
	}, WithLogger(testLogger(t)))
	require.NoError(t, conn.Start())

	// The master never reads, so the output buffer fills and a write parks.
	payload := strings.Repeat("w", 1000)
	writeErrs := make(chan error, 1)
	go func() {
		for {
			if err := conn.WriteLine(payload); err != nil {
				writeErrs <- err
				return
			}
		}
	}()
	time.Sleep(200 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- conn.Stop() }()

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked behind a stalled write")
	}
	select {
	case err := <-writeErrs:
		require.ErrorIs(t, err, PortClosed)
	case <-time.After(time.Second):
		t.Fatal("stalled write was not released")
	}
	require.Equal(t, StateStopped, conn.State())
}
