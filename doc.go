// Package serial bridges a line-oriented serial device to a polling consumer
// such as a game loop, UI frame callback or any other periodic tick.
//
// A Conn owns one port. Start opens it and runs a background reader that pulls
// newline-delimited messages off the wire and drops each one into a Mailbox.
// The consumer polls the Mailbox on its own goroutine, so callbacks that are
// unsafe to run from a background goroutine never are. Writes may come from any
// goroutine and are framed with the same delimiter the reader splits on.
//
// Features:
//   - Native Linux driver on raw syscalls (poll + self-pipe), so Close unblocks a pending read
//   - Alternative drivers on go.bug.st/serial, github.com/tarm/serial and github.com/goburrow/serial
//   - Bounded shutdown: reads use a timeout, and Stop closes the port under a stuck reader
//   - Last-write-wins Slot by default; a bounded Queue when every line matters
//   - Read and write failures are logged (zerolog) and never unwind into the consumer
//
// Delivery: the default Slot keeps only the most recent line. If the device sends
// several lines between two polls, the consumer sees the last one and the others
// are counted by Slot.Dropped. This is the intended trade-off for a
// consumer that only cares about the latest reading.
//
// Example usage:
//
//	conn := serial.NewConn(serial.Config{
//	    PortName: "/dev/ttyACM0",
//	    BaudRate: 9600,
//	})
//	if err := conn.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Stop()
//
//	// Write a command from any goroutine
//	conn.Write("LED,ON")
//
//	// Consume lines on the caller's goroutine
//	conn.Pump(ctx, 16*time.Millisecond, func(line string) {
//	    fmt.Println("Received:", line)
//	})
package serial
