// Package device binds the accelerator and host handles used for the rest
// of the process lifetime.
package device

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/samcharles93/accelq/internal/accel"
	"github.com/samcharles93/accelq/internal/logger"
)

var (
	ErrNoDevices       = stderrors.New("device: no accelerator devices found")
	ErrAlreadySelected = stderrors.New("device: accelerator already selected")
)

// FaultPolicy decides what Select does when a device fails to open for a
// reason other than being busy.
type FaultPolicy int

const (
	// FailFast returns the first non-busy failure.
	FailFast FaultPolicy = iota
	// SkipFaulty moves on to the next device like it does for busy ones.
	SkipFaulty
)

func (p FaultPolicy) String() string {
	if p == SkipFaulty {
		return "skip"
	}
	return "fail"
}

func ParseFaultPolicy(s string) (FaultPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail", "failfast", "fail-fast":
		return FailFast, nil
	case "skip", "skipfaulty", "skip-faulty":
		return SkipFaulty, nil
	default:
		return FailFast, errors.Errorf("unknown fault policy %q (expected fail or skip)", s)
	}
}

// UnavailableError reports that no device could be bound.
type UnavailableError struct {
	Preferred int
	Count     int
	Tried     []int
	Causes    []error
}

func (e *UnavailableError) Error() string {
	msgs := make([]string, len(e.Causes))
	for i, c := range e.Causes {
		msgs[i] = c.Error()
	}
	return fmt.Sprintf("device: no usable device among %d (preferred %d, tried %v): %s",
		e.Count, e.Preferred, e.Tried, strings.Join(msgs, "; "))
}

func (e *UnavailableError) Unwrap() []error {
	return e.Causes
}

// Host describes the host processor handle.
type Host struct {
	Name    string
	Workers int
}

type Option func(*Registry)

func WithFaultPolicy(p FaultPolicy) Option {
	return func(r *Registry) { r.policy = p }
}

func WithLogger(l logger.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithHostWorkers sets the parallelism host-side buffer operations use.
func WithHostWorkers(n int) Option {
	return func(r *Registry) { r.workers = n }
}

// Registry selects one accelerator once and hands out the bound handles.
type Registry struct {
	driver  accel.Driver
	policy  FaultPolicy
	log     logger.Logger
	workers int

	mu  sync.Mutex
	acc accel.Device
	// host is set together with acc.
	host *Host
}

func NewRegistry(driver accel.Driver, opts ...Option) *Registry {
	r := &Registry{driver: driver, log: logger.Discard(), workers: runtime.NumCPU()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Select binds the first device that opens, probing (preferred + k) mod N
// for k = 0..N-1.
func (r *Registry) Select(preferred int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.acc != nil {
		return ErrAlreadySelected
	}
	n, err := r.driver.DeviceCount()
	if err != nil {
		return errors.Wrapf(err, "device: count %s devices", r.driver.Name())
	}
	if n == 0 {
		return ErrNoDevices
	}

	unavailable := &UnavailableError{Preferred: preferred, Count: n}
	for k := 0; k < n; k++ {
		idx := ((preferred+k)%n + n) % n
		unavailable.Tried = append(unavailable.Tried, idx)
		dev, err := r.driver.Open(idx)
		if err == nil {
			r.bind(dev)
			return nil
		}
		unavailable.Causes = append(unavailable.Causes, err)
		if errors.Is(err, accel.ErrDeviceBusy) {
			r.log.Debug("device already in use, try next", "device", idx)
			continue
		}
		if r.policy == FailFast {
			r.log.Error("device acquisition failed", "device", idx, "error", err)
			return unavailable
		}
		r.log.Warn("device fault, try next", "device", idx, "error", err)
	}
	return unavailable
}

func (r *Registry) bind(dev accel.Device) {
	r.acc = dev
	hostname := runtime.GOOS + "/" + runtime.GOARCH
	r.host = &Host{Name: hostname, Workers: max(r.workers, 1)}
	r.log.Info("selected device",
		"driver", r.driver.Name(),
		"device", dev.Index(),
		"name", dev.Name(),
		"memory", humanize.IBytes(uint64(max(dev.TotalMemory(), 0))),
	)
}

// Selected reports whether Select has bound a device.
func (r *Registry) Selected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acc != nil
}

// Accelerator returns the bound device. It panics before Select.
func (r *Registry) Accelerator() accel.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.acc == nil {
		exceptions.Panicf("device: Accelerator() called before Select")
	}
	return r.acc
}

// Host returns the bound host handle. It panics before Select.
func (r *Registry) Host() Host {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.host == nil {
		exceptions.Panicf("device: Host() called before Select")
	}
	return *r.host
}

func (r *Registry) Driver() accel.Driver {
	return r.driver
}

// Close releases the accelerator. The registry cannot select again.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.acc == nil {
		return nil
	}
	return r.acc.Close()
}
