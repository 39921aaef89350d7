package sim

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/samcharles93/accelq/internal/accel"
)

// Stats counts the work a device has executed.
type Stats struct {
	Copies   map[string]int64 `json:"copies"`
	Bytes    map[string]int64 `json:"bytes"`
	Memsets  int64            `json:"memsets"`
	Launches int64            `json:"launches"`
	Blocks   int64            `json:"blocks"`
	Host     int64            `json:"host_callbacks"`
}

type counters struct {
	copies   [4]atomic.Int64
	bytes    [4]atomic.Int64
	memsets  atomic.Int64
	launches atomic.Int64
	blocks   atomic.Int64
	host     atomic.Int64
}

// Device implements accel.Device.
type Device struct {
	driver  *Driver
	index   int
	spec    DeviceSpec
	workers int

	mu        sync.Mutex
	allocated int64
	queues    map[*queue]struct{}
	closed    bool
	fault     error

	stats counters
}

var _ accel.Device = (*Device)(nil)

func newDevice(d *Driver, index int, spec DeviceSpec) *Device {
	return &Device{
		driver:  d,
		index:   index,
		spec:    spec,
		workers: d.cfg.Workers,
		queues:  make(map[*queue]struct{}),
	}
}

func (d *Device) Index() int {
	return d.index
}

func (d *Device) Name() string {
	return d.spec.Name
}

func (d *Device) TotalMemory() int64 {
	return d.spec.MemoryBytes
}

// Allocated returns the bytes of device memory currently in use.
func (d *Device) Allocated() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocated
}

func (d *Device) NewQueue() (accel.Queue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, accel.ErrDestroyed
	}
	q := newQueue(d)
	d.queues[q] = struct{}{}
	return q, nil
}

func (d *Device) NewEvent() (accel.Event, error) {
	if err := d.Fault(); err != nil {
		return nil, err
	}
	return &event{dev: d}, nil
}

func (d *Device) Alloc(bytes int64) (accel.Memory, error) {
	if bytes < 0 {
		return nil, errors.Errorf("sim: negative allocation %d", bytes)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, accel.ErrDestroyed
	}
	if d.allocated+bytes > d.spec.MemoryBytes {
		return nil, errors.Wrapf(accel.ErrOutOfMemory, "sim: %d bytes requested, %d of %d in use",
			bytes, d.allocated, d.spec.MemoryBytes)
	}
	d.allocated += bytes
	return &memory{kind: accel.MemDevice, buf: make([]byte, bytes), dev: d}, nil
}

func (d *Device) AllocHost(bytes int64) (accel.HostMemory, error) {
	if bytes < 0 {
		return nil, errors.Errorf("sim: negative allocation %d", bytes)
	}
	buf, unpin, err := allocPinned(bytes)
	if err != nil {
		return nil, errors.Wrapf(err, "sim: pinned allocation of %d bytes", bytes)
	}
	return &memory{kind: accel.MemHost, buf: buf, unpin: unpin}, nil
}

func (d *Device) Synchronize() error {
	d.mu.Lock()
	queues := make([]*queue, 0, len(d.queues))
	for q := range d.queues {
		queues = append(queues, q)
	}
	d.mu.Unlock()
	for _, q := range queues {
		q.drain()
	}
	return d.Fault()
}

// Close destroys all queues and releases the device index.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	queues := make([]*queue, 0, len(d.queues))
	for q := range d.queues {
		queues = append(queues, q)
	}
	d.mu.Unlock()

	for _, q := range queues {
		_ = q.Destroy()
	}
	d.driver.release(d.index)
	return nil
}

// InjectFault puts the device into a sticky fault state. Every later
// operation reports err.
func (d *Device) InjectFault(err error) {
	d.setFault(err)
}

// Fault returns the sticky fault, if any.
func (d *Device) Fault() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fault
}

func (d *Device) setFault(err error) {
	d.mu.Lock()
	if d.fault == nil {
		d.fault = err
	}
	d.mu.Unlock()
}

// Stats returns a snapshot of the work counters.
func (d *Device) Stats() Stats {
	s := Stats{Copies: map[string]int64{}, Bytes: map[string]int64{}}
	for dir := accel.HostToHost; dir <= accel.DeviceToDevice; dir++ {
		s.Copies[dir.String()] = d.stats.copies[dir].Load()
		s.Bytes[dir.String()] = d.stats.bytes[dir].Load()
	}
	s.Memsets = d.stats.memsets.Load()
	s.Launches = d.stats.launches.Load()
	s.Blocks = d.stats.blocks.Load()
	s.Host = d.stats.host.Load()
	return s
}

// exec runs fn unless the device has faulted. Errors and panics become the
// sticky fault.
func (d *Device) exec(what string, fn func() error) {
	if d.Fault() != nil {
		return
	}
	var err error
	if exception := exceptions.Try(func() { err = fn() }); exception != nil {
		err = asError(exception)
	}
	if err != nil {
		d.setFault(errors.Wrapf(err, "sim: device %d: %s", d.index, what))
	}
}

func asError(exception any) error {
	if err, ok := exception.(error); ok {
		return err
	}
	return fmt.Errorf("%v", exception)
}

func (d *Device) release(bytes int64) {
	d.mu.Lock()
	d.allocated -= bytes
	d.mu.Unlock()
}
