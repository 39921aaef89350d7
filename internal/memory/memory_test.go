package memory

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/accelq/internal/accel/sim"
	"github.com/samcharles93/accelq/internal/layout"
	"github.com/samcharles93/accelq/internal/sched"
)

func newScheduler(t *testing.T) (*sched.Scheduler, *sim.Device) {
	t.Helper()
	dev, err := sim.Default(1).Open(0)
	require.NoError(t, err)
	s, err := sched.New(dev, sched.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
		_ = dev.Close()
	})
	return s, dev.(*sim.Device)
}

func closeAll(t *testing.T, closers ...interface{ Close() error }) {
	t.Helper()
	t.Cleanup(func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	})
}

func TestHostToDeviceThenShrink(t *testing.T) {
	t.Parallel()

	s, _ := newScheduler(t)
	host := must.M1(NewHostBuffer(s, layout.S(1000), 4))
	dev := must.M1(NewDeviceBuffer(s, layout.S(1000), 4))
	closeAll(t, host, dev)
	vals := Elements[float32](host)
	for i := range vals {
		vals[i] = float32(i) / 2
	}

	dev.CopyFromHost(host).WaitForFinished()
	require.EqualValues(t, 1000, dev.CurrentSize())

	dev.SetCurrentSize(10)
	back := must.M1(NewHostBuffer(s, layout.S(1000), 4))
	closeAll(t, back)
	back.CopyFromDevice(dev).WaitForFinished()
	require.EqualValues(t, 10, back.CurrentSize())
	assert.Equal(t, float32(4.5), Load[float32](back, layout.S(9)))
	assert.Zero(t, Load[float32](back, layout.S(10)))
}

func TestSizeOnDeviceRoundTrip(t *testing.T) {
	t.Parallel()

	s, _ := newScheduler(t)
	buf := must.M1(NewDeviceBuffer(s, layout.S(64, 4), 8, WithSizeOnDevice()))
	closeAll(t, buf)
	require.EqualValues(t, 256, buf.CurrentSize())

	for n := int64(0); n <= buf.Capacity(); n += 17 {
		buf.SetCurrentSize(n)
		require.Equal(t, n, buf.CurrentSize())
	}

	// The host copy follows the device only through CurrentSize.
	buf.SetCurrentSize(5)
	buf.StoreHostSize(99)
	require.EqualValues(t, 99, buf.HostSize())
	require.EqualValues(t, 5, buf.CurrentSize())
	require.EqualValues(t, 5, buf.HostSize())
}

func TestSetCurrentSizeBounds(t *testing.T) {
	t.Parallel()

	s, _ := newScheduler(t)
	d := must.M1(NewDeviceBuffer(s, layout.S(8), 4))
	h := must.M1(NewHostBuffer(s, layout.S(8), 4))
	closeAll(t, d, h)
	for _, b := range []sched.Buffer{d, h} {
		require.NotNil(t, exceptions.Try(func() { b.SetCurrentSize(9) }))
		require.NotNil(t, exceptions.Try(func() { b.SetCurrentSize(-1) }))
		b.SetCurrentSize(8)
	}
}

func TestResetPreserveIsIdempotent(t *testing.T) {
	t.Parallel()

	s, _ := newScheduler(t)
	dev := must.M1(NewDeviceBuffer(s, layout.S(16, 3), 4))
	host := must.M1(NewHostBuffer(s, layout.S(16, 3), 4))
	closeAll(t, dev, host)
	dev.SetValue(ValueBytes(int32(7)))
	dev.SetCurrentSize(20)

	for range 2 {
		dev.Reset(true)
		require.Equal(t, dev.Capacity(), dev.CurrentSize())
		host.CopyFromDevice(dev).WaitForFinished()
		for _, v := range Elements[int32](host) {
			require.EqualValues(t, 7, v)
		}
	}

	dev.Reset(false)
	host.CopyFromDevice(dev).WaitForFinished()
	for _, v := range Elements[int32](host) {
		require.Zero(t, v)
	}
}

func TestDeviceViewUsesParentPitch(t *testing.T) {
	t.Parallel()

	s, _ := newScheduler(t)
	parent := must.M1(NewDeviceBuffer(s, layout.S(10, 6), 4))
	require.EqualValues(t, DefaultPitchAlignment, parent.Layout().Pitch())
	s.Memset(parent, 0)

	view := must.M1(parent.View(layout.S(2, 1), layout.S(4, 3)))
	require.True(t, view.IsView())
	require.Equal(t, parent.Layout().Strides, view.Layout().Strides)
	view.SetValue(ValueBytes(uint32(9)))

	require.ErrorIs(t, parent.Close(), ErrViewsAlive)

	host := must.M1(NewHostBuffer(s, layout.S(10, 6), 4))
	closeAll(t, host)
	host.CopyFromDevice(parent).WaitForFinished()
	for y := int64(0); y < 6; y++ {
		for x := int64(0); x < 10; x++ {
			want := uint32(0)
			if x >= 2 && x < 6 && y >= 1 && y < 4 {
				want = 9
			}
			require.Equal(t, want, Load[uint32](host, layout.S(x, y)), "(%d, %d)", x, y)
		}
	}

	// Reset of a view zeroes only the view.
	view.Reset(false)
	host.CopyFromDevice(parent).WaitForFinished()
	require.Zero(t, Load[uint32](host, layout.S(3, 2)))

	require.NoError(t, view.Close())
	require.NoError(t, parent.Close())
	require.NoError(t, parent.Close())
	_, err := parent.View(layout.S(0, 0), layout.S(1, 1))
	require.Error(t, err)
}

func TestHostViewAndSetValue(t *testing.T) {
	t.Parallel()

	s, _ := newScheduler(t)
	host := must.M1(NewHostBuffer(s, layout.S(8, 4, 3), 2, WithWorkers(4)))
	closeAll(t, host)
	host.SetValue(ValueBytes(uint16(3)))
	for _, v := range Elements[uint16](host) {
		require.EqualValues(t, 3, v)
	}

	view := must.M1(host.View(layout.S(1, 1, 1), layout.S(2, 2, 2)))
	view.Reset(false)
	require.Zero(t, Load[uint16](host, layout.S(1, 1, 1)))
	require.Zero(t, Load[uint16](host, layout.S(2, 2, 2)))
	require.EqualValues(t, 3, Load[uint16](host, layout.S(3, 2, 2)))
	require.EqualValues(t, 3, Load[uint16](host, layout.S(0, 0, 0)))
	require.NoError(t, view.Close())

	// Only elements inside the current extent are written.
	host.Reset(false)
	host.SetCurrentSize(10)
	host.SetValue(ValueBytes(uint16(1)))
	require.EqualValues(t, 1, Load[uint16](host, layout.S(7, 1, 0)))
	require.Zero(t, Load[uint16](host, layout.S(0, 2, 0)))
}

func TestFlatViewOfLinearBase(t *testing.T) {
	t.Parallel()

	s, dev := newScheduler(t)
	grid := must.M1(NewDeviceBuffer(s, layout.S(5, 4), 4, WithLinearBase()))
	closeAll(t, grid)
	require.True(t, grid.Layout().IsDense())

	flat := must.M1(grid.Flat())
	require.Equal(t, layout.S(20), flat.Extent())

	host := must.M1(NewHostBuffer(s, layout.S(20), 4))
	closeAll(t, host)
	for i := range Elements[int32](host) {
		Store(host, layout.S(int64(i)), int32(i))
	}
	flat.CopyFromHost(host).WaitForFinished()
	require.EqualValues(t, 1, dev.Stats().Copies["h2d"])

	back := must.M1(NewHostBuffer(s, layout.S(5, 4), 4))
	closeAll(t, back)
	back.CopyFromDevice(grid).WaitForFinished()
	require.EqualValues(t, 13, Load[int32](back, layout.S(3, 2)))
	require.NoError(t, flat.Close())

	pitched := must.M1(NewDeviceBuffer(s, layout.S(5, 4), 4))
	closeAll(t, pitched)
	_, err := pitched.Flat()
	require.Error(t, err)
}

func TestTypedAccessChecksSize(t *testing.T) {
	t.Parallel()

	s, _ := newScheduler(t)
	host := must.M1(NewHostBuffer(s, layout.S(4), 8))
	closeAll(t, host)
	Store(host, layout.S(2), 1.5)
	require.Equal(t, 1.5, Load[float64](host, layout.S(2)))
	require.Len(t, host.Element(layout.S(2)), 8)
	require.NotNil(t, exceptions.Try(func() { Load[int32](host, layout.S(0)) }))
	require.NotNil(t, exceptions.Try(func() { host.Element(layout.S(4)) }))
	require.Len(t, ValueBytes(struct{ A, B int32 }{1, 2}), 8)
}
