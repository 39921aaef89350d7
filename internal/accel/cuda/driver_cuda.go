//go:build cuda

package cuda

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/samcharles93/accelq/internal/accel"
	"github.com/samcharles93/accelq/internal/accel/cuda/native"
	"github.com/samcharles93/accelq/internal/layout"
)

// Available reports whether this build links the CUDA runtime.
const Available = true

// Driver implements accel.Driver on the CUDA runtime.
type Driver struct{}

var _ accel.Driver = Driver{}

func New() (accel.Driver, error) {
	if _, err := native.DeviceCount(); err != nil {
		return nil, errors.Wrap(err, "cuda: query device count")
	}
	return Driver{}, nil
}

func (Driver) Name() string {
	return "cuda"
}

func (Driver) DeviceCount() (int, error) {
	return native.DeviceCount()
}

func (Driver) Open(index int) (accel.Device, error) {
	if err := native.SetDevice(index); err != nil {
		return nil, openErr(index, err)
	}
	// Context creation is where exclusive-process devices refuse us.
	if err := native.DeviceSynchronize(); err != nil {
		return nil, openErr(index, err)
	}
	_, total, err := native.MemInfo()
	if err != nil {
		return nil, openErr(index, err)
	}
	mod, err := native.LoadModule(builtinPTX())
	if err != nil {
		return nil, errors.Wrap(err, "cuda: load built-in kernels")
	}
	d := &device{index: index, total: total, modules: []native.Module{mod}, funcs: map[string]native.Function{}}
	for _, name := range builtinNames {
		fn, err := mod.Function(name)
		if err != nil {
			_ = mod.Unload()
			return nil, errors.Wrapf(err, "cuda: resolve built-in kernel %s", name)
		}
		d.funcs[name] = fn
	}
	return d, nil
}

func openErr(index int, err error) error {
	if native.DeviceBusy(err) {
		return errors.Wrapf(accel.ErrDeviceBusy, "cuda: device %d: %v", index, err)
	}
	return errors.Wrapf(err, "cuda: open device %d", index)
}

type device struct {
	index int
	total int64

	mu      sync.Mutex
	modules []native.Module
	funcs   map[string]native.Function
}

func (d *device) Index() int {
	return d.index
}

func (d *device) Name() string {
	return fmt.Sprintf("cuda:%d", d.index)
}

func (d *device) TotalMemory() int64 {
	return d.total
}

func (d *device) NewQueue() (accel.Queue, error) {
	s, err := native.NewStream()
	if err != nil {
		return nil, err
	}
	return &queue{dev: d, stream: s}, nil
}

func (d *device) NewEvent() (accel.Event, error) {
	ev, err := native.NewEvent()
	if err != nil {
		return nil, err
	}
	return event{ev: ev}, nil
}

func (d *device) Alloc(bytes int64) (accel.Memory, error) {
	if bytes == 0 {
		return &deviceMemory{}, nil
	}
	b, err := native.AllocDevice(bytes)
	if err != nil {
		return nil, errors.Wrapf(accel.ErrOutOfMemory, "cuda: %d bytes: %v", bytes, err)
	}
	return &deviceMemory{buf: b, n: bytes}, nil
}

func (d *device) AllocHost(bytes int64) (accel.HostMemory, error) {
	if bytes == 0 {
		return &hostMemory{}, nil
	}
	b, err := native.AllocHostPinned(bytes)
	if err != nil {
		return nil, err
	}
	return &hostMemory{buf: b, n: bytes}, nil
}

func (d *device) Synchronize() error {
	return native.DeviceSynchronize()
}

func (d *device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var first error
	for _, m := range d.modules {
		if err := m.Unload(); err != nil && first == nil {
			first = err
		}
	}
	d.modules = nil
	return first
}

// function resolves k to a loaded entry point, loading its PTX on first use.
func (d *device) function(k *accel.Kernel) (native.Function, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fn, ok := d.funcs[k.Name]; ok {
		return fn, nil
	}
	if k.PTX == "" {
		return native.Function{}, errors.Wrapf(accel.ErrNoKernelBody, "cuda: kernel %s", k.Name)
	}
	mod, err := native.LoadModule(k.PTX)
	if err != nil {
		return native.Function{}, errors.Wrapf(err, "cuda: load kernel %s", k.Name)
	}
	fn, err := mod.Function(k.Name)
	if err != nil {
		_ = mod.Unload()
		return native.Function{}, errors.Wrapf(err, "cuda: resolve kernel %s", k.Name)
	}
	d.modules = append(d.modules, mod)
	d.funcs[k.Name] = fn
	return fn, nil
}

type pointer interface {
	ptr() unsafe.Pointer
}

type deviceMemory struct {
	buf native.DeviceBuffer
	n   int64
}

func (m *deviceMemory) Kind() accel.MemoryKind { return accel.MemDevice }
func (m *deviceMemory) Len() int64             { return m.n }
func (m *deviceMemory) Free() error            { return m.buf.Free() }
func (m *deviceMemory) ptr() unsafe.Pointer    { return m.buf.Ptr() }

type hostMemory struct {
	buf native.HostBuffer
	n   int64
}

func (m *hostMemory) Kind() accel.MemoryKind { return accel.MemHost }
func (m *hostMemory) Len() int64             { return m.n }
func (m *hostMemory) Free() error            { return m.buf.Free() }
func (m *hostMemory) ptr() unsafe.Pointer    { return m.buf.Ptr() }

func (m *hostMemory) Bytes() []byte {
	if m.n == 0 {
		return []byte{}
	}
	return unsafe.Slice((*byte)(m.buf.Ptr()), m.n)
}

func spanPtr(s accel.Span) (unsafe.Pointer, error) {
	p, ok := s.Mem.(pointer)
	if !ok {
		return nil, errors.Errorf("cuda: %T is not cuda memory", s.Mem)
	}
	return unsafe.Add(p.ptr(), s.Offset), nil
}

type event struct {
	ev native.Event
}

func (e event) Query() (bool, error) { return e.ev.Query() }
func (e event) Synchronize() error   { return e.ev.Synchronize() }
func (e event) Destroy() error       { return e.ev.Destroy() }

type queue struct {
	dev    *device
	stream native.Stream
}

func (q *queue) Copy(op accel.CopyOp) error {
	if err := op.Validate(); err != nil {
		return err
	}
	dst, err := spanPtr(op.Dst)
	if err != nil {
		return err
	}
	src, err := spanPtr(op.Src)
	if err != nil {
		return err
	}
	if op.Linear() {
		return native.MemcpyAsync(dst, src, op.Bytes(), q.stream)
	}
	width := op.Box[0] * op.Src.Layout.ElemSize
	height, depth := planes(op.Box)
	for z := int64(0); z < depth; z++ {
		d := unsafe.Add(dst, z*sliceStride(op.Dst.Layout))
		s := unsafe.Add(src, z*sliceStride(op.Src.Layout))
		if err := native.Memcpy2DAsync(d, op.Dst.Layout.Pitch(), s, op.Src.Layout.Pitch(), width, height, q.stream); err != nil {
			return err
		}
	}
	return nil
}

func (q *queue) Memset(dst accel.Span, box layout.Space, value byte) error {
	p, err := spanPtr(dst)
	if err != nil {
		return err
	}
	width := box[0] * dst.Layout.ElemSize
	height, depth := planes(box)
	for z := int64(0); z < depth; z++ {
		if err := native.Memset2DAsync(unsafe.Add(p, z*sliceStride(dst.Layout)), dst.Layout.Pitch(), value, width, height, q.stream); err != nil {
			return err
		}
	}
	return nil
}

func planes(box layout.Space) (height, depth int64) {
	height, depth = 1, 1
	if box.Rank() > 1 {
		height = box[1]
	}
	if box.Rank() > 2 {
		depth = box[2]
	}
	return height, depth
}

func sliceStride(l layout.Layout) int64 {
	if l.Rank() > 2 {
		return l.Strides[2]
	}
	return 0
}

func (q *queue) Launch(k *accel.Kernel, cfg accel.LaunchConfig, args ...any) error {
	fn, err := q.dev.function(k)
	if err != nil {
		return err
	}
	params := make([][]byte, len(args))
	for i, a := range args {
		if params[i], err = marshalArg(a); err != nil {
			return errors.Wrapf(err, "cuda: kernel %s argument %d", k.Name, i)
		}
	}
	grid := [3]uint32{uint32(cfg.Grid.X), uint32(cfg.Grid.Y), uint32(cfg.Grid.Z)}
	block := [3]uint32{uint32(cfg.Block.X), uint32(cfg.Block.Y), uint32(cfg.Block.Z)}
	return native.Launch(fn, grid, block, q.stream, params)
}

func marshalArg(a any) ([]byte, error) {
	switch v := a.(type) {
	case accel.Span:
		p, err := spanPtr(v)
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.AppendUint64(nil, uint64(uintptr(p))), nil
	case []byte:
		return v, nil
	case int64:
		return binary.LittleEndian.AppendUint64(nil, uint64(v)), nil
	case uint64:
		return binary.LittleEndian.AppendUint64(nil, v), nil
	case int:
		return binary.LittleEndian.AppendUint64(nil, uint64(v)), nil
	case int32:
		return binary.LittleEndian.AppendUint32(nil, uint32(v)), nil
	case uint32:
		return binary.LittleEndian.AppendUint32(nil, v), nil
	case float32:
		return binary.LittleEndian.AppendUint32(nil, math.Float32bits(v)), nil
	case float64:
		return binary.LittleEndian.AppendUint64(nil, math.Float64bits(v)), nil
	default:
		return nil, errors.Errorf("unsupported kernel argument type %T", a)
	}
}

// Enqueue drains the stream and runs fn inline; host callbacks through
// cudaLaunchHostFunc would need a cgo export.
func (q *queue) Enqueue(fn func() error) error {
	if err := q.stream.Synchronize(); err != nil {
		return err
	}
	return fn()
}

func (q *queue) Record(ev accel.Event) error {
	e, ok := ev.(event)
	if !ok {
		return errors.Errorf("cuda: foreign event %T", ev)
	}
	return e.ev.Record(q.stream)
}

func (q *queue) Wait(ev accel.Event) error {
	e, ok := ev.(event)
	if !ok {
		return errors.Errorf("cuda: foreign event %T", ev)
	}
	return q.stream.WaitEvent(e.ev)
}

func (q *queue) Synchronize() error {
	return q.stream.Synchronize()
}

func (q *queue) Destroy() error {
	return q.stream.Destroy()
}
