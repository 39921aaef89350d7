package sched

import (
	"encoding/binary"
	"fmt"

	"github.com/gomlx/exceptions"

	"github.com/samcharles93/accelq/internal/accel"
	"github.com/samcharles93/accelq/internal/layout"
)

// Buffer is what copy and fill tasks read and write. Tasks keep no
// ownership of buffers.
type Buffer interface {
	// Span covers the full extent of the buffer.
	Span() accel.Span
	CurrentSize() int64
	SetCurrentSize(n int64)
}

// SizeMirrored is a buffer that keeps its logical size in device memory as
// well.
type SizeMirrored interface {
	// SizeMirror returns the span of the device-resident uint64 size.
	SizeMirror() (accel.Span, bool)
	// StoreHostSize replaces the host copy of the size without issuing
	// device work.
	StoreHostSize(n int64)
}

// Mapping yields the launch shape of a kernel.
type Mapping interface {
	LaunchConfig() accel.LaunchConfig
}

// Grid is an explicit launch shape.
type Grid accel.LaunchConfig

func (g Grid) LaunchConfig() accel.LaunchConfig {
	return accel.LaunchConfig(g)
}

type TaskOption func(*task)

// OnComplete registers fn to run once the task is observed finished.
func OnComplete(fn func(Notification)) TaskOption {
	return func(t *task) { t.callbacks = append(t.callbacks, fn) }
}

func WithDescription(desc string) TaskOption {
	return func(t *task) { t.desc = desc }
}

func (s *Scheduler) newTask(kind Kind, place Place, m mode, opts []TaskOption) *task {
	t := &task{s: s, id: nextID(), kind: kind, place: place, mode: m, done: make(chan struct{})}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (s *Scheduler) submit(t *task) Task {
	t.Init()
	return t
}

// CopyHostToDevice copies the current size of src into dst.
func (s *Scheduler) CopyHostToDevice(dst, src Buffer, opts ...TaskOption) Task {
	return s.copy(KindCopyH2D, dst, src, opts)
}

// CopyDeviceToHost copies the current size of src into dst.
func (s *Scheduler) CopyDeviceToHost(dst, src Buffer, opts ...TaskOption) Task {
	return s.copy(KindCopyD2H, dst, src, opts)
}

// CopyDeviceToDevice copies the current size of src into dst.
func (s *Scheduler) CopyDeviceToDevice(dst, src Buffer, opts ...TaskOption) Task {
	return s.copy(KindCopyD2D, dst, src, opts)
}

// copy snapshots the source size when the task is initialized. The
// destination takes that size before any bytes are enqueued, so later
// changes to src do not affect the transfer.
func (s *Scheduler) copy(kind Kind, dst, src Buffer, opts []TaskOption) Task {
	t := s.newTask(kind, PlaceDevice, modeStream, opts)
	var op accel.CopyOp
	t.prepare = func() {
		n := src.CurrentSize()
		op = accel.CopyOp{Dst: dst.Span(), Src: src.Span()}
		if op.Linear() {
			if n > op.Dst.Layout.Capacity() {
				exceptions.Panicf("sched: %s of %d elements into a buffer of %d", kind, n, op.Dst.Layout.Capacity())
			}
			op.Box = layout.S(n)
		} else {
			op.Box = op.Src.Layout.CurrentExtent(n)
			if !op.Dst.Layout.Extent.Covers(op.Box) {
				exceptions.Panicf("sched: %s of extent %s into a buffer of extent %s", kind, op.Box, op.Dst.Layout.Extent)
			}
		}
		if t.desc == "" {
			t.desc = fmt.Sprintf("%d elements %s", n, op.Box)
		}
		dst.SetCurrentSize(n)
	}
	t.enqueue = func(st *Stream) error {
		if op.Box.Product() == 0 {
			return nil
		}
		return st.Queue().Copy(op)
	}
	return s.submit(t)
}

// SetValue writes value into every element inside the current size of dst.
// len(value) must equal the element size.
func (s *Scheduler) SetValue(dst Buffer, value []byte, opts ...TaskOption) Task {
	span := dst.Span()
	elem := span.Layout.ElemSize
	if int64(len(value)) != elem {
		exceptions.Panicf("sched: SetValue with a %d byte value on %d byte elements", len(value), elem)
	}
	t := s.newTask(KindSetValue, PlaceDevice, modeStream, opts)
	var (
		box     layout.Space
		scratch accel.Span
		staged  accel.HostMemory
	)
	small := len(value) <= s.cfg.SmallValueLimit
	t.prepare = func() {
		box = span.Layout.CurrentExtent(dst.CurrentSize())
		if t.desc == "" {
			t.desc = fmt.Sprintf("%d byte value over %s", len(value), box)
		}
		if small || box.Product() == 0 {
			return
		}
		var err error
		if staged, err = s.dev.AllocHost(elem); err != nil {
			t.fatal("stage value", err)
		}
		copy(staged.Bytes(), value)
		mem, err := s.dev.Alloc(elem)
		if err != nil {
			_ = staged.Free()
			t.fatal("allocate value slot", err)
		}
		one, _ := layout.Dense(layout.S(1), elem)
		scratch = accel.Span{Mem: mem, Layout: one}
		t.hooks = append(t.hooks, func() {
			s.free(t, staged)
			s.free(t, mem)
		})
	}
	t.enqueue = func(st *Stream) error {
		if box.Product() == 0 {
			return nil
		}
		q := st.Queue()
		cfg := fillLaunch(box)
		pitch, slice := span.Layout.Pitch(), slicePitch(span.Layout)
		if small {
			blob := make([]byte, accel.MaxValueBytes)
			copy(blob, value)
			return q.Launch(fillValueKernel, cfg, span, pitch, slice, box[0], elem, blob)
		}
		src := accel.Span{Mem: staged, Layout: scratch.Layout}
		if err := q.Copy(accel.CopyOp{Dst: scratch, Src: src, Box: layout.S(1)}); err != nil {
			return err
		}
		return q.Launch(fillPointerKernel, cfg, span, pitch, slice, box[0], elem, scratch)
	}
	return s.submit(t)
}

// Memset sets every byte of the full extent of dst, padding excluded.
func (s *Scheduler) Memset(dst Buffer, value byte, opts ...TaskOption) Task {
	t := s.newTask(KindSetValue, PlaceDevice, modeStream, opts)
	span := dst.Span()
	if t.desc == "" {
		t.desc = fmt.Sprintf("memset %#02x over %s", value, span.Layout.Extent)
	}
	t.enqueue = func(st *Stream) error {
		if span.Layout.Capacity() == 0 {
			return nil
		}
		return st.Queue().Memset(span, span.Layout.Extent, value)
	}
	return s.submit(t)
}

// SetCurrentSizeOnDevice writes n into the device size of buf.
func (s *Scheduler) SetCurrentSizeOnDevice(buf SizeMirrored, n int64, opts ...TaskOption) Task {
	mirror, ok := buf.SizeMirror()
	if !ok {
		exceptions.Panicf("sched: SetCurrentSizeOnDevice on a buffer without a device size")
	}
	t := s.newTask(KindSetSize, PlaceDevice, modeStream, opts)
	if t.desc == "" {
		t.desc = fmt.Sprintf("size %d", n)
	}
	t.enqueue = func(st *Stream) error {
		return st.Queue().Launch(setSizeKernel, single, mirror, uint64(n))
	}
	return s.submit(t)
}

// GetCurrentSizeFromDevice reads the device size of buf and stores it as the
// host size once the copy finished.
func (s *Scheduler) GetCurrentSizeFromDevice(buf SizeMirrored, opts ...TaskOption) Task {
	mirror, ok := buf.SizeMirror()
	if !ok {
		exceptions.Panicf("sched: GetCurrentSizeFromDevice on a buffer without a device size")
	}
	t := s.newTask(KindGetSize, PlaceDevice, modeStream, opts)
	var scalar accel.HostMemory
	t.prepare = func() {
		var err error
		if scalar, err = s.dev.AllocHost(8); err != nil {
			t.fatal("allocate size scalar", err)
		}
		t.hooks = append(t.hooks, func() {
			buf.StoreHostSize(int64(binary.NativeEndian.Uint64(scalar.Bytes())))
			s.free(t, scalar)
		})
	}
	t.enqueue = func(st *Stream) error {
		dst := accel.Span{Mem: scalar, Layout: mirror.Layout}
		return st.Queue().Copy(accel.CopyOp{Dst: dst, Src: mirror, Box: layout.S(1)})
	}
	return s.submit(t)
}

// Kernel launches k over the grid of m. An empty grid launches nothing.
func (s *Scheduler) Kernel(k *accel.Kernel, m Mapping, args ...any) Task {
	return s.KernelTask(k, m, args)
}

// KernelTask is Kernel with task options.
func (s *Scheduler) KernelTask(k *accel.Kernel, m Mapping, args []any, opts ...TaskOption) Task {
	cfg := m.LaunchConfig()
	t := s.newTask(KindKernel, PlaceDevice, modeStream, opts)
	if t.desc == "" {
		t.desc = fmt.Sprintf("%s %s", k.Name, cfg)
	}
	t.enqueue = func(st *Stream) error {
		if cfg.Grid.Count() == 0 {
			return nil
		}
		if s.cfg.SyncKernels {
			if err := s.dev.Synchronize(); err != nil {
				t.fatal("crash before kernel call", err)
			}
		}
		if err := st.Queue().Launch(k, cfg, args...); err != nil {
			return err
		}
		if s.cfg.SyncKernels {
			if err := s.dev.Synchronize(); err != nil {
				t.fatal("crash after kernel launch", err)
			}
		}
		return nil
	}
	return s.submit(t)
}

// Host runs fn on the calling goroutine once the previous host task has
// finished. The returned task is already finished.
func (s *Scheduler) Host(desc string, fn func(), opts ...TaskOption) Task {
	t := s.newTask(KindHost, PlaceHost, modeHost, opts)
	t.desc = desc
	t.run = fn
	t.ran = make(chan struct{})
	return s.submit(t)
}

// External issues a task on place whose work lives outside the device.
// start is called once the work of the predecessor is done and returns the
// completion check; both are driven by Poll and WaitForFinished.
func (s *Scheduler) External(place Place, desc string, start func() (done func() bool), opts ...TaskOption) Task {
	t := s.newTask(KindExternal, place, modeExternal, opts)
	t.desc = desc
	t.start = start
	return s.submit(t)
}

func (s *Scheduler) free(t *task, m accel.Memory) {
	if err := m.Free(); err != nil {
		s.log.Warn("scratch release failed", "task", uint64(t.id), "error", err)
	}
}
