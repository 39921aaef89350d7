package sched

import (
	"encoding/binary"
	"sync/atomic"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/accelq/internal/accel"
	"github.com/samcharles93/accelq/internal/accel/sim"
	"github.com/samcharles93/accelq/internal/layout"
)

func newScheduler(t *testing.T, cfg Config) (*Scheduler, *sim.Device) {
	t.Helper()
	drv := sim.Default(1)
	dev, err := drv.Open(0)
	require.NoError(t, err)
	s, err := New(dev, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
		_ = dev.Close()
	})
	return s, dev.(*sim.Device)
}

// release frees mem at the end of the test once dev has drained, so work a
// test left in flight never touches freed memory.
func release(t *testing.T, dev accel.Device, mem accel.Memory) {
	t.Cleanup(func() {
		_ = dev.Synchronize()
		_ = mem.Free()
	})
}

// testBuffer is a minimal Buffer over one allocation.
type testBuffer struct {
	span accel.Span
	size atomic.Int64

	mirror accel.Span
	stored atomic.Int64
}

func deviceBuffer(t *testing.T, dev accel.Device, extent layout.Space, elem int64) *testBuffer {
	t.Helper()
	l := must.M1(layout.Aligned(extent, elem, 256))
	mem := must.M1(dev.Alloc(l.Footprint()))
	release(t, dev, mem)
	b := &testBuffer{span: accel.Span{Mem: mem, Layout: l}}
	b.size.Store(l.Capacity())
	return b
}

func hostBuffer(t *testing.T, dev accel.Device, extent layout.Space, elem int64) *testBuffer {
	t.Helper()
	l := must.M1(layout.Dense(extent, elem))
	mem := must.M1(dev.AllocHost(l.Footprint()))
	release(t, dev, mem)
	b := &testBuffer{span: accel.Span{Mem: mem, Layout: l}}
	b.size.Store(l.Capacity())
	return b
}

func mirrored(t *testing.T, dev accel.Device, b *testBuffer) *testBuffer {
	t.Helper()
	l := must.M1(layout.Dense(layout.S(1), 8))
	mem := must.M1(dev.Alloc(8))
	release(t, dev, mem)
	b.mirror = accel.Span{Mem: mem, Layout: l}
	return b
}

func (b *testBuffer) Span() accel.Span         { return b.span }
func (b *testBuffer) CurrentSize() int64       { return b.size.Load() }
func (b *testBuffer) SetCurrentSize(n int64)   { b.size.Store(n) }
func (b *testBuffer) StoreHostSize(n int64)    { b.stored.Store(n) }
func (b *testBuffer) bytes() []byte            { return b.span.Bytes() }
func (b *testBuffer) u32(i int64) uint32       { return binary.NativeEndian.Uint32(b.bytes()[i*4:]) }
func (b *testBuffer) putU32(i int64, v uint32) { binary.NativeEndian.PutUint32(b.bytes()[i*4:], v) }

func (b *testBuffer) SizeMirror() (accel.Span, bool) {
	return b.mirror, b.mirror.Mem != nil
}
