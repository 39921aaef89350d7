// Package sim is an in-process accelerator driver. Queues are goroutines
// that execute work in submission order, device memory is ordinary host
// memory, and kernels run block-parallel on a bounded worker set.
package sim

import (
	"runtime"
	"slices"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/samcharles93/accelq/internal/accel"
)

// DeviceSpec describes one simulated device.
type DeviceSpec struct {
	Name        string `yaml:"name"`
	MemoryBytes int64  `yaml:"memory_bytes"`
	// Busy marks the device as held by another process.
	Busy bool `yaml:"busy"`
	// Fault, when set, is returned by Open.
	Fault error `yaml:"-"`
}

type Config struct {
	Devices []DeviceSpec
	// Workers bounds the goroutines executing kernel blocks per launch.
	Workers int
}

const defaultMemory = 1 << 30

// Driver implements accel.Driver.
type Driver struct {
	cfg Config

	mu   sync.Mutex
	open map[int]*Device
}

var _ accel.Driver = (*Driver)(nil)

func New(cfg Config) *Driver {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	cfg.Devices = slices.Clone(cfg.Devices)
	for i := range cfg.Devices {
		if cfg.Devices[i].MemoryBytes <= 0 {
			cfg.Devices[i].MemoryBytes = defaultMemory
		}
		if cfg.Devices[i].Name == "" {
			cfg.Devices[i].Name = "sim" + strconv.Itoa(i)
		}
	}
	return &Driver{cfg: cfg, open: make(map[int]*Device)}
}

// Default returns a driver with n idle devices of 1 GiB each.
func Default(n int) *Driver {
	specs := make([]DeviceSpec, n)
	return New(Config{Devices: specs})
}

func (d *Driver) Name() string {
	return "sim"
}

func (d *Driver) DeviceCount() (int, error) {
	return len(d.cfg.Devices), nil
}

func (d *Driver) Open(index int) (accel.Device, error) {
	if index < 0 || index >= len(d.cfg.Devices) {
		return nil, errors.Errorf("sim: device index %d out of range [0, %d)", index, len(d.cfg.Devices))
	}
	spec := d.cfg.Devices[index]
	if spec.Fault != nil {
		return nil, errors.Wrapf(spec.Fault, "sim: open device %d", index)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if spec.Busy || d.open[index] != nil {
		return nil, errors.Wrapf(accel.ErrDeviceBusy, "sim: device %d (%s)", index, spec.Name)
	}
	dev := newDevice(d, index, spec)
	d.open[index] = dev
	return dev, nil
}

func (d *Driver) release(index int) {
	d.mu.Lock()
	delete(d.open, index)
	d.mu.Unlock()
}
