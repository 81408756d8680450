package serial

import (
	"fmt"
	"time"
)

// readLoop reads lines until the stop flag drops or the port closes. Failures
// other than a closed port are reported and reading continues.
func (c *Conn) readLoop(t Transport, stop <-chan struct{}, done chan<- struct{}) {
	defer func() {
		c.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
		c.state.Store(int32(StateStopped))
		close(done)
	}()

	c.log.Debug().Msg("reader started")
	defer c.log.Debug().Msg("reader stopped")

	for c.running.Load() {
		line, err := readLine(t)
		if err == nil {
			c.mailbox.Publish(line)
			continue
		}

		switch ReasonOf(err) {
		case Timeout:
			continue
		case PortClosed:
			if c.running.Load() {
				c.report(err, "port closed under reader")
			}
			return
		}

		c.report(err, "read failed")
		backoff := time.NewTimer(c.faultBackoff)
		select {
		case <-stop:
			backoff.Stop()
			return
		case <-backoff.C:
		}
	}
}

// readLine keeps a panicking Transport from taking the reader goroutine down.
func readLine(t Transport) (line string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = readErr(IOFault, fmt.Errorf("transport panic: %v", r))
		}
	}()
	return t.ReadLine()
}
