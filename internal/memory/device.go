package memory

import (
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/samcharles93/accelq/internal/accel"
	"github.com/samcharles93/accelq/internal/layout"
	"github.com/samcharles93/accelq/internal/logger"
	"github.com/samcharles93/accelq/internal/sched"
)

// DeviceBuffer is an N-dimensional buffer in device memory.
//
// With WithSizeOnDevice the logical size also lives in device memory. The
// host value and the device value may disagree from SetCurrentSize until
// the issued set-size task completes, and the host value only follows the
// device through CurrentSize.
type DeviceBuffer struct {
	s      *sched.Scheduler
	log    logger.Logger
	span   accel.Span
	mem    accel.Memory
	mirror accel.Span
	parent *DeviceBuffer

	size   atomic.Int64
	views  atomic.Int32
	closed atomic.Bool
}

var (
	_ sched.Buffer       = (*DeviceBuffer)(nil)
	_ sched.SizeMirrored = (*DeviceBuffer)(nil)
)

// NewDeviceBuffer allocates a buffer of extent elements of elemSize bytes
// on the scheduler's device. Rows of rank 2 and 3 buffers are padded to the
// pitch alignment unless WithLinearBase is given.
func NewDeviceBuffer(s *sched.Scheduler, extent layout.Space, elemSize int64, opts ...Option) (*DeviceBuffer, error) {
	o := buildOptions(opts)
	var (
		l   layout.Layout
		err error
	)
	if o.linearBase {
		l, err = layout.Dense(extent, elemSize)
	} else {
		l, err = layout.Aligned(extent, elemSize, o.align)
	}
	if err != nil {
		return nil, errors.Wrap(err, "memory: device buffer")
	}
	dev := s.Device()
	mem, err := dev.Alloc(l.Footprint())
	if err != nil {
		return nil, errors.Wrapf(err, "memory: device buffer %s", extent)
	}
	b := &DeviceBuffer{s: s, log: o.log, span: accel.Span{Mem: mem, Layout: l}, mem: mem}
	b.size.Store(l.Capacity())
	if o.sizeOnDevice {
		scalar, _ := layout.Dense(layout.S(1), 8)
		m, err := dev.Alloc(8)
		if err != nil {
			_ = mem.Free()
			return nil, errors.Wrap(err, "memory: device size")
		}
		b.mirror = accel.Span{Mem: m, Layout: scalar}
		s.SetCurrentSizeOnDevice(b, l.Capacity())
	}
	o.log.Debug("device buffer allocated",
		"extent", extent.String(),
		"pitch", l.Pitch(),
		"size", humanize.IBytes(uint64(l.Footprint())),
		"size_on_device", o.sizeOnDevice,
	)
	return b, nil
}

func (b *DeviceBuffer) Span() accel.Span {
	return b.span
}

func (b *DeviceBuffer) Layout() layout.Layout {
	return b.span.Layout
}

func (b *DeviceBuffer) Extent() layout.Space {
	return b.span.Layout.Extent
}

func (b *DeviceBuffer) Capacity() int64 {
	return b.span.Layout.Capacity()
}

func (b *DeviceBuffer) Scheduler() *sched.Scheduler {
	return b.s
}

// IsView reports whether b borrows its memory from another buffer.
func (b *DeviceBuffer) IsView() bool {
	return b.parent != nil
}

// CurrentSize returns the logical size. With a device size it first reads
// the device value back and blocks until it arrives.
func (b *DeviceBuffer) CurrentSize() int64 {
	if b.mirror.Mem != nil {
		b.s.GetCurrentSizeFromDevice(b).WaitForFinished()
	}
	return b.size.Load()
}

// HostSize returns the host copy of the logical size without touching the
// device.
func (b *DeviceBuffer) HostSize() int64 {
	return b.size.Load()
}

// SetCurrentSize sets the logical size. With a device size it also issues
// the device update, which completes asynchronously.
func (b *DeviceBuffer) SetCurrentSize(n int64) {
	if n < 0 || n > b.Capacity() {
		exceptions.Panicf("memory: size %d outside [0, %d]", n, b.Capacity())
	}
	b.size.Store(n)
	if b.mirror.Mem != nil {
		b.s.SetCurrentSizeOnDevice(b, n)
	}
}

func (b *DeviceBuffer) SizeMirror() (accel.Span, bool) {
	return b.mirror, b.mirror.Mem != nil
}

func (b *DeviceBuffer) StoreHostSize(n int64) {
	b.size.Store(n)
}

// Reset sets the logical size back to the capacity. Unless preserveData is
// set, owned memory is zeroed before Reset returns; a view is zeroed by a
// fill task that completes asynchronously.
func (b *DeviceBuffer) Reset(preserveData bool) {
	b.SetCurrentSize(b.Capacity())
	if preserveData {
		return
	}
	if b.parent == nil {
		b.s.Memset(b, 0).WaitForFinished()
		return
	}
	b.s.SetValue(b, make([]byte, b.span.Layout.ElemSize))
}

// View returns a buffer over the sub-block of extent elements starting at
// offset. It shares memory with b, which cannot be closed while the view
// is open.
func (b *DeviceBuffer) View(offset, extent layout.Space) (*DeviceBuffer, error) {
	if b.closed.Load() {
		return nil, errors.Wrap(accel.ErrDestroyed, "memory: view of a closed buffer")
	}
	l, base, err := b.span.Layout.View(offset, extent)
	if err != nil {
		return nil, errors.Wrap(err, "memory")
	}
	v := &DeviceBuffer{
		s:      b.s,
		log:    b.log,
		span:   accel.Span{Mem: b.span.Mem, Offset: b.span.Offset + base, Layout: l},
		parent: b,
	}
	v.size.Store(l.Capacity())
	b.views.Add(1)
	return v, nil
}

// Flat returns a rank 1 view over every element of a dense buffer, so N
// dimensional data can take the linear copy path.
func (b *DeviceBuffer) Flat() (*DeviceBuffer, error) {
	if !b.span.Layout.IsDense() {
		return nil, errors.Errorf("memory: buffer with pitch %d is not dense", b.span.Layout.Pitch())
	}
	l, err := layout.Dense(layout.S(b.Capacity()), b.span.Layout.ElemSize)
	if err != nil {
		return nil, errors.Wrap(err, "memory")
	}
	v := &DeviceBuffer{s: b.s, log: b.log, span: accel.Span{Mem: b.span.Mem, Offset: b.span.Offset, Layout: l}, parent: b}
	v.size.Store(b.HostSize())
	b.views.Add(1)
	return v, nil
}

// CopyFromHost issues a copy of the current size of src into b.
func (b *DeviceBuffer) CopyFromHost(src *HostBuffer, opts ...sched.TaskOption) sched.Task {
	return b.s.CopyHostToDevice(b, src, opts...)
}

// CopyFromDevice issues a copy of the current size of src into b.
func (b *DeviceBuffer) CopyFromDevice(src *DeviceBuffer, opts ...sched.TaskOption) sched.Task {
	return b.s.CopyDeviceToDevice(b, src, opts...)
}

// SetValue issues a fill of every element inside the current size.
func (b *DeviceBuffer) SetValue(value []byte, opts ...sched.TaskOption) sched.Task {
	return b.s.SetValue(b, value, opts...)
}

// Close releases owned memory. Pending tasks on b must have finished.
func (b *DeviceBuffer) Close() error {
	if b.views.Load() > 0 {
		return ErrViewsAlive
	}
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if b.parent != nil {
		b.parent.views.Add(-1)
		return nil
	}
	err := b.mem.Free()
	if b.mirror.Mem != nil {
		if merr := b.mirror.Mem.Free(); err == nil {
			err = merr
		}
	}
	b.log.Debug("device buffer released", "extent", b.Extent().String())
	return errors.Wrap(err, "memory: close device buffer")
}
