// Package environment bundles the device registry and the scheduler of one
// process. It replaces a global singleton: callers create it once, pass it
// down, and close it on shutdown.
package environment

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/samcharles93/accelq/internal/accel"
	"github.com/samcharles93/accelq/internal/device"
	"github.com/samcharles93/accelq/internal/layout"
	"github.com/samcharles93/accelq/internal/logger"
	"github.com/samcharles93/accelq/internal/memory"
	"github.com/samcharles93/accelq/internal/sched"
)

type Config struct {
	// Device is the preferred accelerator index.
	Device      int
	FaultPolicy device.FaultPolicy
	// HostWorkers defaults to the CPU count.
	HostWorkers int
	Scheduler   sched.Config
	Logger      logger.Logger
}

type Environment struct {
	id       uuid.UUID
	log      logger.Logger
	registry *device.Registry
	sched    *sched.Scheduler

	closeOnce sync.Once
	closeErr  error
}

// New selects a device from driver and starts a scheduler on it.
func New(driver accel.Driver, cfg Config) (*Environment, error) {
	id := uuid.New()
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	log = log.With("env", id.String())

	opts := []device.Option{device.WithFaultPolicy(cfg.FaultPolicy), device.WithLogger(log)}
	if cfg.HostWorkers > 0 {
		opts = append(opts, device.WithHostWorkers(cfg.HostWorkers))
	}
	registry := device.NewRegistry(driver, opts...)
	if err := registry.Select(cfg.Device); err != nil {
		return nil, err
	}
	scfg := cfg.Scheduler
	if scfg.Logger == nil {
		scfg.Logger = log
	}
	s, err := sched.New(registry.Accelerator(), scfg)
	if err != nil {
		_ = registry.Close()
		return nil, errors.Wrap(err, "environment")
	}
	log.Info("environment ready", "driver", driver.Name(), "device", registry.Accelerator().Name())
	return &Environment{id: id, log: log, registry: registry, sched: s}, nil
}

func (e *Environment) ID() uuid.UUID {
	return e.id
}

func (e *Environment) Logger() logger.Logger {
	return e.log
}

func (e *Environment) Registry() *device.Registry {
	return e.registry
}

func (e *Environment) Scheduler() *sched.Scheduler {
	return e.sched
}

func (e *Environment) Device() accel.Device {
	return e.registry.Accelerator()
}

func (e *Environment) Host() device.Host {
	return e.registry.Host()
}

// NewHostBuffer allocates a host buffer whose fills use the host workers.
func (e *Environment) NewHostBuffer(extent layout.Space, elemSize int64, opts ...memory.Option) (*memory.HostBuffer, error) {
	base := []memory.Option{memory.WithWorkers(e.Host().Workers), memory.WithLogger(e.log)}
	return memory.NewHostBuffer(e.sched, extent, elemSize, append(base, opts...)...)
}

func (e *Environment) NewDeviceBuffer(extent layout.Space, elemSize int64, opts ...memory.Option) (*memory.DeviceBuffer, error) {
	base := []memory.Option{memory.WithLogger(e.log)}
	return memory.NewDeviceBuffer(e.sched, extent, elemSize, append(base, opts...)...)
}

// Close waits for all tasks, then releases streams, events and the device.
func (e *Environment) Close() error {
	e.closeOnce.Do(func() {
		err := e.sched.Close()
		if rerr := e.registry.Close(); err == nil {
			err = rerr
		}
		e.closeErr = err
		e.log.Info("environment closed")
	})
	return e.closeErr
}
