package sched

import (
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/samcharles93/accelq/internal/accel"
)

var lastStreamID atomic.Int64

// Stream is an ordered command queue on one device.
type Stream struct {
	id    int
	queue accel.Queue
}

func NewStream(dev accel.Device) (*Stream, error) {
	q, err := dev.NewQueue()
	if err != nil {
		return nil, errors.Wrap(err, "sched: create stream")
	}
	return &Stream{id: int(lastStreamID.Add(1)), queue: q}, nil
}

func (s *Stream) ID() int {
	return s.id
}

// Queue exposes the driver queue for enqueueing commands.
func (s *Stream) Queue() accel.Queue {
	return s.queue
}

// Enqueue appends host work behind everything already on the stream.
func (s *Stream) Enqueue(work func() error) error {
	return s.queue.Enqueue(work)
}

// WaitOn makes later work on s wait for ev. Events recorded on s itself
// need no barrier.
func (s *Stream) WaitOn(ev *Event) error {
	if !ev.Recorded() {
		exceptions.Panicf("sched: WaitOn an unrecorded event")
	}
	if ev.stream == s {
		return nil
	}
	return s.queue.Wait(ev.token)
}

// Synchronize blocks until the stream is empty.
func (s *Stream) Synchronize() error {
	return s.queue.Synchronize()
}

// Close blocks until all issued work has drained, then releases the queue.
func (s *Stream) Close() error {
	err := s.queue.Synchronize()
	if derr := s.queue.Destroy(); err == nil {
		err = derr
	}
	return err
}

// StreamController owns a fixed set of streams handed out round-robin.
type StreamController struct {
	streams []*Stream
	next    atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

func NewStreamController(dev accel.Device, n int) (*StreamController, error) {
	if n <= 0 {
		n = 1
	}
	c := &StreamController{}
	for i := 0; i < n; i++ {
		s, err := NewStream(dev)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.streams = append(c.streams, s)
	}
	return c, nil
}

// Next returns the next stream in round-robin order.
func (c *StreamController) Next() *Stream {
	i := c.next.Add(1) - 1
	return c.streams[i%uint64(len(c.streams))]
}

func (c *StreamController) Streams() []*Stream {
	return c.streams
}

// Synchronize drains every stream.
func (c *StreamController) Synchronize() error {
	var first error
	for _, s := range c.streams {
		if err := s.Synchronize(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (c *StreamController) Close() error {
	c.closeOnce.Do(func() {
		for _, s := range c.streams {
			if err := s.Close(); err != nil && c.closeErr == nil {
				c.closeErr = err
			}
		}
	})
	return c.closeErr
}
