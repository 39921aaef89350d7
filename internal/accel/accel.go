// Package accel defines the driver surface the scheduler runs on: devices,
// in-order queues, completion events, memory and kernels. Implementations
// live in the sim and cuda subpackages.
package accel

import (
	stderrors "errors"

	"github.com/samcharles93/accelq/internal/layout"
)

var (
	ErrDeviceBusy   = stderrors.New("accel: device already in use")
	ErrOutOfMemory  = stderrors.New("accel: out of device memory")
	ErrNoKernelBody = stderrors.New("accel: kernel has no body for this driver")
	ErrDestroyed    = stderrors.New("accel: object already destroyed")
)

// Driver enumerates and opens devices.
type Driver interface {
	Name() string
	DeviceCount() (int, error)
	// Open makes index the current device of this process. It returns an
	// error wrapping ErrDeviceBusy when another context holds the device.
	Open(index int) (Device, error)
}

// Device is an opened accelerator.
type Device interface {
	Index() int
	Name() string
	TotalMemory() int64
	NewQueue() (Queue, error)
	NewEvent() (Event, error)
	Alloc(bytes int64) (Memory, error)
	// AllocHost returns page-locked host memory usable as a copy endpoint.
	AllocHost(bytes int64) (HostMemory, error)
	// Synchronize blocks until all queues of the device are idle.
	Synchronize() error
	Close() error
}

// Queue executes submitted work in submission order.
type Queue interface {
	Copy(op CopyOp) error
	Memset(dst Span, box layout.Space, value byte) error
	Launch(k *Kernel, cfg LaunchConfig, args ...any) error
	// Enqueue runs fn on the host once all earlier work is done. A failure
	// faults the device.
	Enqueue(fn func() error) error
	// Record marks ev as completing when all work submitted so far is done.
	Record(ev Event) error
	// Wait makes later work wait for the last recording of ev.
	Wait(ev Event) error
	Synchronize() error
	Destroy() error
}

// Event is a completion marker recorded into a Queue. An event that was
// never recorded reports complete.
type Event interface {
	Query() (bool, error)
	Synchronize() error
	Destroy() error
}

type MemoryKind int

const (
	MemHost MemoryKind = iota
	MemDevice
)

func (k MemoryKind) String() string {
	if k == MemDevice {
		return "device"
	}
	return "host"
}

// Memory is an allocation owned by a device or by pinned host storage.
type Memory interface {
	Kind() MemoryKind
	Len() int64
	Free() error
}

// Addressable memory exposes its bytes to the host process.
type Addressable interface {
	Bytes() []byte
}

// HostMemory is Memory the host can read and write directly.
type HostMemory interface {
	Memory
	Addressable
}
