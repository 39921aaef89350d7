package memory

import (
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/samcharles93/accelq/internal/accel"
	"github.com/samcharles93/accelq/internal/layout"
	"github.com/samcharles93/accelq/internal/logger"
	"github.com/samcharles93/accelq/internal/sched"
)

// HostBuffer is an N-dimensional buffer in page-locked host memory. It is
// a valid endpoint for copies from and to device buffers.
type HostBuffer struct {
	s       *sched.Scheduler
	log     logger.Logger
	workers int
	span    accel.Span
	mem     accel.HostMemory
	parent  *HostBuffer

	size   atomic.Int64
	views  atomic.Int32
	closed atomic.Bool
}

var _ sched.Buffer = (*HostBuffer)(nil)

// NewHostBuffer allocates a dense buffer of extent elements of elemSize
// bytes.
func NewHostBuffer(s *sched.Scheduler, extent layout.Space, elemSize int64, opts ...Option) (*HostBuffer, error) {
	o := buildOptions(opts)
	l, err := layout.Dense(extent, elemSize)
	if err != nil {
		return nil, errors.Wrap(err, "memory: host buffer")
	}
	mem, err := s.Device().AllocHost(l.Footprint())
	if err != nil {
		return nil, errors.Wrapf(err, "memory: host buffer %s", extent)
	}
	b := &HostBuffer{s: s, log: o.log, workers: o.workers, span: accel.Span{Mem: mem, Layout: l}, mem: mem}
	b.size.Store(l.Capacity())
	o.log.Debug("host buffer allocated", "extent", extent.String(), "size", humanize.IBytes(uint64(l.Footprint())))
	return b, nil
}

func (b *HostBuffer) Span() accel.Span {
	return b.span
}

func (b *HostBuffer) Layout() layout.Layout {
	return b.span.Layout
}

func (b *HostBuffer) Extent() layout.Space {
	return b.span.Layout.Extent
}

func (b *HostBuffer) Capacity() int64 {
	return b.span.Layout.Capacity()
}

func (b *HostBuffer) IsView() bool {
	return b.parent != nil
}

func (b *HostBuffer) CurrentSize() int64 {
	return b.size.Load()
}

func (b *HostBuffer) SetCurrentSize(n int64) {
	if n < 0 || n > b.Capacity() {
		exceptions.Panicf("memory: size %d outside [0, %d]", n, b.Capacity())
	}
	b.size.Store(n)
}

// Bytes returns the memory from the first element to the end of the
// allocation.
func (b *HostBuffer) Bytes() []byte {
	return b.span.Bytes()
}

// Element returns the bytes of the element at idx.
func (b *HostBuffer) Element(idx layout.Space) []byte {
	l := b.span.Layout
	if !l.Contains(idx) {
		exceptions.Panicf("memory: index %s outside extent %s", idx, l.Extent)
	}
	off := l.Offset(idx)
	return b.Bytes()[off : off+l.ElemSize : off+l.ElemSize]
}

// Reset sets the logical size back to the capacity and, unless
// preserveData is set, zeroes the elements.
func (b *HostBuffer) Reset(preserveData bool) {
	b.SetCurrentSize(b.Capacity())
	if preserveData {
		return
	}
	if b.parent == nil {
		clear(b.mem.Bytes())
		return
	}
	b.SetValue(make([]byte, b.span.Layout.ElemSize))
}

// SetValue writes value into every element inside the current size. Rows
// are split across the configured workers.
func (b *HostBuffer) SetValue(value []byte) {
	l := b.span.Layout
	if int64(len(value)) != l.ElemSize {
		exceptions.Panicf("memory: %d byte value for %d byte elements", len(value), l.ElemSize)
	}
	box := l.CurrentExtent(b.CurrentSize())
	var rows []int64
	l.Rows(box, func(off int64) { rows = append(rows, off) })
	if len(rows) == 0 {
		return
	}
	buf := b.Bytes()
	fill := func(rows []int64) {
		for _, off := range rows {
			for x := int64(0); x < box[0]; x++ {
				p := off + x*l.ElemSize
				copy(buf[p:p+l.ElemSize], value)
			}
		}
	}
	workers := min(b.workers, len(rows))
	if workers <= 1 {
		fill(rows)
		return
	}
	var wg sync.WaitGroup
	per := (len(rows) + workers - 1) / workers
	for start := 0; start < len(rows); start += per {
		wg.Add(1)
		go func(part []int64) {
			defer wg.Done()
			fill(part)
		}(rows[start:min(start+per, len(rows))])
	}
	wg.Wait()
}

// View returns a buffer over the sub-block of extent elements starting at
// offset.
func (b *HostBuffer) View(offset, extent layout.Space) (*HostBuffer, error) {
	if b.closed.Load() {
		return nil, errors.Wrap(accel.ErrDestroyed, "memory: view of a closed buffer")
	}
	l, base, err := b.span.Layout.View(offset, extent)
	if err != nil {
		return nil, errors.Wrap(err, "memory")
	}
	v := &HostBuffer{
		s:       b.s,
		log:     b.log,
		workers: b.workers,
		span:    accel.Span{Mem: b.span.Mem, Offset: b.span.Offset + base, Layout: l},
		mem:     b.mem,
		parent:  b,
	}
	v.size.Store(l.Capacity())
	b.views.Add(1)
	return v, nil
}

// CopyFromDevice issues a copy of the current size of src into b.
func (b *HostBuffer) CopyFromDevice(src *DeviceBuffer, opts ...sched.TaskOption) sched.Task {
	return b.s.CopyDeviceToHost(b, src, opts...)
}

func (b *HostBuffer) Close() error {
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
	return errors.Wrap(b.mem.Free(), "memory: close host buffer")
}
