package environment

import (
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/accelq/internal/accel"
	"github.com/samcharles93/accelq/internal/accel/sim"
	"github.com/samcharles93/accelq/internal/device"
	"github.com/samcharles93/accelq/internal/layout"
	"github.com/samcharles93/accelq/internal/memory"
)

func TestEnvironmentLifecycle(t *testing.T) {
	t.Parallel()

	drv := sim.New(sim.Config{Devices: []sim.DeviceSpec{{Busy: true}, {}}})
	env, err := New(drv, Config{Device: 0, HostWorkers: 2})
	require.NoError(t, err)
	require.Equal(t, 1, env.Device().Index())
	require.Equal(t, 2, env.Host().Workers)
	require.NotEqual(t, env.ID().String(), "")

	host := must.M1(env.NewHostBuffer(layout.S(32), 4))
	dev := must.M1(env.NewDeviceBuffer(layout.S(32), 4, memory.WithSizeOnDevice()))
	host.SetValue(memory.ValueBytes(int32(-1)))
	dev.CopyFromHost(host)
	require.EqualValues(t, 32, dev.CurrentSize())
	require.NoError(t, dev.Close())
	require.NoError(t, host.Close())

	require.NoError(t, env.Close())
	require.NoError(t, env.Close())

	// The device index is free again.
	reopened, err := drv.Open(1)
	require.NoError(t, err)
	require.NoError(t, reopened.Close())
}

func TestEnvironmentNoDevice(t *testing.T) {
	t.Parallel()

	drv := sim.New(sim.Config{Devices: []sim.DeviceSpec{{Busy: true}}})
	_, err := New(drv, Config{})
	var unavailable *device.UnavailableError
	require.ErrorAs(t, err, &unavailable)
	require.ErrorIs(t, err, accel.ErrDeviceBusy)
}
