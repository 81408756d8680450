package serial

import "go.uber.org/atomic"

// Mailbox hands received lines from the reader goroutine to the consumer.
// Publish is called only by the reader, Poll only by the consumer. Neither blocks.
type Mailbox interface {
	Publish(line string)
	Poll() (string, bool)
}

// Slot is a single-capacity, last-write-wins Mailbox and the Conn default.
//
// Lines published faster than the consumer polls overwrite each other: only the
// most recent one is delivered and the rest are counted by Dropped. Use Queue
// when every line matters.
type Slot struct {
	line    atomic.Pointer[string]
	dropped atomic.Uint64
}

func (s *Slot) Publish(line string) {
	if old := s.line.Swap(&line); old != nil {
		s.dropped.Inc()
	}
}

// Poll takes the pending line, if any, leaving the slot empty.
func (s *Slot) Poll() (string, bool) {
	p := s.line.Swap(nil)
	if p == nil {
		return "", false
	}
	return *p, true
}

// Dropped reports how many lines were overwritten before being polled.
func (s *Slot) Dropped() uint64 { return s.dropped.Load() }

// Queue is a bounded FIFO Mailbox. When full, Publish discards the oldest line.
type Queue struct {
	ch      chan string
	dropped atomic.Uint64
}

func NewQueue(size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{ch: make(chan string, size)}
}

func (q *Queue) Publish(line string) {
	for {
		select {
		case q.ch <- line:
			return
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Inc()
		default:
		}
	}
}

func (q *Queue) Poll() (string, bool) {
	select {
	case line := <-q.ch:
		return line, true
	default:
		return "", false
	}
}

func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
