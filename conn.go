package serial

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

// State is the reader loop lifecycle.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Conn owns one serial port: it opens it, runs a reader goroutine that
// publishes every received line into a Mailbox, and serializes writes against
// closing the port.
//
// Start and Stop are meant to be called once each by the host. Poll, Tick and
// Pump belong to the consumer goroutine; Write may be called from anywhere.
type Conn struct {
	cfg          Config
	open         Opener
	mailbox      Mailbox
	log          zerolog.Logger
	onError      func(error)
	faultBackoff time.Duration
	stopGrace    time.Duration

	// mu guards the transport field. Writers hold it shared for the whole
	// write; Stop closes the transport first, which fails any blocked write
	// with port-closed, and only then takes mu to clear the field.
	mu        sync.RWMutex
	transport Transport

	lifeMu  sync.Mutex // serializes Start and Stop
	started bool
	stopCh  chan struct{}
	done    chan struct{}

	running atomic.Bool
	state   atomic.Int32
}

// NewConn returns an idle Conn for cfg. Nothing is opened until Start.
func NewConn(cfg Config, opts ...Option) *Conn {
	c := &Conn{
		cfg:          cfg.withDefaults(),
		open:         Open,
		mailbox:      &Slot{},
		log:          log.Logger,
		faultBackoff: DefaultFaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("port", c.cfg.PortName).Str("driver", c.cfg.Driver).Logger()
	if c.stopGrace <= 0 {
		c.stopGrace = defaultStopGrace
		if c.cfg.ReadTimeout > 0 {
			c.stopGrace += c.cfg.ReadTimeout
		}
	}
	return c
}

// Config returns the configuration the port is opened with.
func (c *Conn) Config() Config { return c.cfg }

// State reports the reader loop state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Start opens the port and starts the reader. Open failures are returned as
// *PortError and leave the Conn idle. A stopped Conn may be started again.
func (c *Conn) Start() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.started {
		return ErrAlreadyStarted
	}
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	t, err := c.open(c.cfg)
	if err != nil {
		c.log.Error().Err(err).Msg("open serial port")
		return err
	}

	c.mu.Lock()
	c.transport = t
	c.mu.Unlock()

	c.started = true
	c.stopCh = make(chan struct{})
	c.done = make(chan struct{})
	c.running.Store(true)
	c.state.Store(int32(StateRunning))
	go c.readLoop(t, c.stopCh, c.done)

	c.log.Info().Int("baud", c.cfg.BaudRate).Msg("serial port open")
	return nil
}

// Stop signals the reader, waits for it to exit and closes the port. If the
// reader is still blocked after the stop grace period, the port is closed
// under it to unblock the read. Calling Stop on an idle or stopped Conn is a no-op.
func (c *Conn) Stop() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if !c.started {
		return nil
	}
	c.started = false
	c.running.Store(false)
	c.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
	close(c.stopCh)

	c.mu.RLock()
	t := c.transport
	c.mu.RUnlock()

	var closeErr error
	timer := time.NewTimer(c.stopGrace)
	select {
	case <-c.done:
		timer.Stop()
	case <-timer.C:
		c.log.Debug().Dur("grace", c.stopGrace).Msg("reader still blocked, closing port under it")
		closeErr = t.Close()
		<-c.done
	}

	// Close before taking mu: a write blocked on a full output buffer holds
	// mu shared until the transport is closed under it.
	if err := t.Close(); err != nil {
		closeErr = err
	}
	c.mu.Lock()
	c.transport = nil
	c.mu.Unlock()

	if closeErr != nil {
		c.log.Warn().Err(closeErr).Msg("close serial port")
	}
	c.log.Info().Msg("serial port closed")
	return closeErr
}

// WriteLine writes message followed by the delimiter. Failures are logged,
// passed to the error handler and returned.
func (c *Conn) WriteLine(message string) error {
	c.mu.RLock()
	t := c.transport
	var err error
	if t == nil {
		err = writeErr(PortClosed, nil)
	} else {
		err = t.WriteLine(message)
	}
	c.mu.RUnlock()

	if err != nil {
		c.report(err, "write failed")
		return err
	}
	c.log.Trace().Str("line", message).Msg("sent")
	return nil
}

// Write is the fire-and-forget form of WriteLine. Callers that need delivery
// confirmation have to acknowledge at the payload level.
func (c *Conn) Write(message string) {
	_ = c.WriteLine(message)
}

// Poll returns the pending received line, if any. It never blocks.
func (c *Conn) Poll() (string, bool) {
	return c.mailbox.Poll()
}

// Tick polls once and hands a pending line to fn on the caller's goroutine.
// It reports whether fn was called.
func (c *Conn) Tick(fn func(line string)) bool {
	line, ok := c.mailbox.Poll()
	if ok {
		fn(line)
	}
	return ok
}

// Pump calls Tick every interval until ctx is done and returns ctx.Err().
func (c *Conn) Pump(ctx context.Context, interval time.Duration, fn func(line string)) error {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Tick(fn)
		}
	}
}

func (c *Conn) report(err error, msg string) {
	c.log.Warn().Err(err).Str("reason", string(ReasonOf(err))).Msg(msg)
	if c.onError != nil {
		c.onError(err)
	}
}
