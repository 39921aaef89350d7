package sim

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/accelq/internal/accel"
	"github.com/samcharles93/accelq/internal/layout"
)

func openDevice(t *testing.T, drv *Driver, index int) *Device {
	t.Helper()
	dev, err := drv.Open(index)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })
	return dev.(*Device)
}

func TestOpenReportsBusy(t *testing.T) {
	t.Parallel()

	drv := New(Config{Devices: []DeviceSpec{{Busy: true}, {}}})
	_, err := drv.Open(0)
	require.ErrorIs(t, err, accel.ErrDeviceBusy)

	dev := openDevice(t, drv, 1)
	assert.Equal(t, "sim1", dev.Name())

	_, err = drv.Open(1)
	require.ErrorIs(t, err, accel.ErrDeviceBusy)

	_, err = drv.Open(2)
	require.Error(t, err)
}

func TestOpenAfterCloseSucceeds(t *testing.T) {
	t.Parallel()

	drv := Default(1)
	dev, err := drv.Open(0)
	require.NoError(t, err)
	require.NoError(t, dev.Close())

	dev, err = drv.Open(0)
	require.NoError(t, err)
	require.NoError(t, dev.Close())
}

func TestAllocRespectsCapacity(t *testing.T) {
	t.Parallel()

	dev := openDevice(t, New(Config{Devices: []DeviceSpec{{MemoryBytes: 1024}}}), 0)
	a, err := dev.Alloc(1000)
	require.NoError(t, err)
	_, err = dev.Alloc(100)
	require.ErrorIs(t, err, accel.ErrOutOfMemory)

	require.NoError(t, a.Free())
	assert.Equal(t, int64(0), dev.Allocated())
	require.ErrorIs(t, a.Free(), accel.ErrDestroyed)
}

func TestPitchedRoundTrip(t *testing.T) {
	t.Parallel()

	dev := openDevice(t, Default(1), 0)
	q, err := dev.NewQueue()
	require.NoError(t, err)

	extent := layout.S(5, 3)
	hostLayout, err := layout.Dense(extent, 1)
	require.NoError(t, err)
	devLayout, err := layout.Aligned(extent, 1, 16)
	require.NoError(t, err)

	in, err := dev.AllocHost(hostLayout.Footprint())
	require.NoError(t, err)
	out, err := dev.AllocHost(hostLayout.Footprint())
	require.NoError(t, err)
	mem, err := dev.Alloc(devLayout.Footprint())
	require.NoError(t, err)
	for i := range in.Bytes() {
		in.Bytes()[i] = byte(i + 1)
	}

	h := func(m accel.Memory) accel.Span { return accel.Span{Mem: m, Layout: hostLayout} }
	d := accel.Span{Mem: mem, Layout: devLayout}
	require.NoError(t, q.Copy(accel.CopyOp{Dst: d, Src: h(in), Box: extent}))
	require.NoError(t, q.Copy(accel.CopyOp{Dst: h(out), Src: d, Box: extent}))
	require.NoError(t, q.Synchronize())

	assert.Equal(t, in.Bytes(), out.Bytes())
	// Padding bytes of the pitched rows stay untouched.
	assert.Equal(t, byte(0), mem.(accel.Addressable).Bytes()[5])

	stats := dev.Stats()
	assert.Equal(t, int64(1), stats.Copies["h2d"])
	assert.Equal(t, int64(1), stats.Copies["d2h"])
	assert.Equal(t, int64(15), stats.Bytes["d2h"])
}

func TestEventOrdersQueues(t *testing.T) {
	t.Parallel()

	dev := openDevice(t, Default(1), 0)
	a, err := dev.NewQueue()
	require.NoError(t, err)
	b, err := dev.NewQueue()
	require.NoError(t, err)
	ev, err := dev.NewEvent()
	require.NoError(t, err)

	done, err := ev.Query()
	require.NoError(t, err)
	assert.True(t, done, "never-recorded event reports complete")

	release := make(chan struct{})
	var order []string
	gate := &accel.Kernel{Name: "gate", Func: func(accel.Block) {
		<-release
		order = append(order, "a")
	}}
	after := &accel.Kernel{Name: "after", Func: func(accel.Block) {
		order = append(order, "b")
	}}
	one := accel.LaunchConfig{Grid: accel.D3(1, 1, 1), Block: accel.D3(1, 1, 1)}

	require.NoError(t, a.Launch(gate, one))
	require.NoError(t, a.Record(ev))
	require.NoError(t, b.Wait(ev))
	require.NoError(t, b.Launch(after, one))

	done, err = ev.Query()
	require.NoError(t, err)
	assert.False(t, done)

	close(release)
	require.NoError(t, b.Synchronize())
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestLaunchRunsEveryBlock(t *testing.T) {
	t.Parallel()

	dev := openDevice(t, New(Config{Devices: []DeviceSpec{{}}, Workers: 3}), 0)
	q, err := dev.NewQueue()
	require.NoError(t, err)

	var threads atomic.Int64
	k := &accel.Kernel{Name: "count", Func: func(b accel.Block) {
		b.Threads(func(accel.Dim3) { threads.Add(1) })
	}}
	require.NoError(t, q.Launch(k, accel.LaunchConfig{Grid: accel.D3(4, 3, 2), Block: accel.D3(8, 2, 1)}))
	require.NoError(t, q.Synchronize())
	assert.Equal(t, int64(24*16), threads.Load())
	assert.Equal(t, int64(24), dev.Stats().Blocks)

	require.ErrorIs(t, q.Launch(&accel.Kernel{Name: "ptx-only", PTX: "..."}, accel.LaunchConfig{}), accel.ErrNoKernelBody)
}

func TestKernelPanicIsSticky(t *testing.T) {
	t.Parallel()

	dev := openDevice(t, Default(1), 0)
	q, err := dev.NewQueue()
	require.NoError(t, err)

	boom := errors.New("illegal address")
	k := &accel.Kernel{Name: "bad", Func: func(accel.Block) { panic(boom) }}
	require.NoError(t, q.Launch(k, accel.LaunchConfig{Grid: accel.D3(1, 1, 1), Block: accel.D3(1, 1, 1)}))

	err = q.Synchronize()
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, dev.Synchronize(), boom)

	mem, err := dev.Alloc(8)
	require.NoError(t, err)
	err = q.Memset(accel.Span{Mem: mem, Layout: mustDense(t, 8)}, layout.S(8), 0)
	require.ErrorIs(t, err, boom)
}

func TestMemsetBox(t *testing.T) {
	t.Parallel()

	dev := openDevice(t, Default(1), 0)
	q, err := dev.NewQueue()
	require.NoError(t, err)

	l, err := layout.Pitched(layout.S(3, 2), 1, 4)
	require.NoError(t, err)
	mem, err := dev.Alloc(l.Footprint())
	require.NoError(t, err)
	require.NoError(t, q.Memset(accel.Span{Mem: mem, Layout: l}, layout.S(2, 2), 7))
	require.NoError(t, q.Synchronize())
	assert.Equal(t, []byte{7, 7, 0, 0, 7, 7, 0}, mem.(accel.Addressable).Bytes())
}

func mustDense(t *testing.T, n int64) layout.Layout {
	t.Helper()
	l, err := layout.Dense(layout.S(n), 1)
	require.NoError(t, err)
	return l
}
