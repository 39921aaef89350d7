package sched

import (
	"time"

	"github.com/pkg/errors"

	"github.com/samcharles93/accelq/internal/accel"
	"github.com/samcharles93/accelq/internal/logger"
)

const (
	DefaultStreams   = 4
	DefaultWarnAfter = 10 * time.Second
)

type Config struct {
	// Streams is the number of streams handed out round-robin.
	Streams int
	// SyncKernels synchronizes the device around every kernel launch so a
	// fault is attributed to the kernel that caused it.
	SyncKernels bool
	// WarnAfter logs a warning when a wait takes longer. Negative disables.
	WarnAfter time.Duration
	// SmallValueLimit is the largest Set-Value element passed to the fill
	// kernel by value. Capped at accel.MaxValueBytes.
	SmallValueLimit int
	Logger          logger.Logger
	Tracer          *Tracer
}

func (c Config) withDefaults() Config {
	if c.Streams <= 0 {
		c.Streams = DefaultStreams
	}
	if c.WarnAfter == 0 {
		c.WarnAfter = DefaultWarnAfter
	}
	if c.SmallValueLimit <= 0 || c.SmallValueLimit > accel.MaxValueBytes {
		c.SmallValueLimit = accel.MaxValueBytes
	}
	if c.Logger == nil {
		c.Logger = logger.Discard()
	}
	return c
}

// Scheduler issues tasks for one device. Its methods in factory.go are the
// task factory.
type Scheduler struct {
	dev     accel.Device
	cfg     Config
	log     logger.Logger
	events  *EventPool
	streams *StreamController
	tm      *TransactionManager
	manager *Manager
}

func New(dev accel.Device, cfg Config) (*Scheduler, error) {
	cfg = cfg.withDefaults()
	streams, err := NewStreamController(dev, cfg.Streams)
	if err != nil {
		return nil, errors.Wrapf(err, "sched: device %d", dev.Index())
	}
	log := cfg.Logger.With("device", dev.Index())
	s := &Scheduler{
		dev:     dev,
		cfg:     cfg,
		log:     log,
		events:  NewEventPool(dev),
		streams: streams,
		tm:      newTransactionManager(),
		manager: newManager(log, cfg.WarnAfter, cfg.Tracer),
	}
	log.Debug("scheduler ready", "streams", cfg.Streams, "sync_kernels", cfg.SyncKernels)
	return s, nil
}

func (s *Scheduler) Device() accel.Device {
	return s.dev
}

func (s *Scheduler) Config() Config {
	return s.cfg
}

func (s *Scheduler) Manager() *Manager {
	return s.manager
}

func (s *Scheduler) Transactions() *TransactionManager {
	return s.tm
}

func (s *Scheduler) Streams() *StreamController {
	return s.streams
}

func (s *Scheduler) Events() *EventPool {
	return s.events
}

func (s *Scheduler) StartTransaction(serial Task) {
	s.tm.StartTransaction(serial)
}

func (s *Scheduler) EndTransaction() Task {
	return s.tm.EndTransaction()
}

func (s *Scheduler) TransactionEvent() Task {
	return s.tm.TransactionEvent()
}

func (s *Scheduler) SetTransactionEvent(t Task) {
	s.tm.SetTransactionEvent(t)
}

// pickStream reuses the stream of an unfinished stream predecessor so FIFO
// order replaces a barrier; otherwise it takes the next stream.
func (s *Scheduler) pickStream(pred Task) *Stream {
	if p, ok := pred.(*task); ok && p.mode == modeStream {
		p.mu.Lock()
		st, live := p.stream, !p.finished && p.event.Valid()
		p.mu.Unlock()
		if live && st != nil {
			return st
		}
	}
	return s.streams.Next()
}

// Close waits for all tasks and releases streams and events.
func (s *Scheduler) Close() error {
	s.manager.WaitAll()
	err := s.streams.Close()
	if perr := s.events.Close(); err == nil {
		err = perr
	}
	return err
}
