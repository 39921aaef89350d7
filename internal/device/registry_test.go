package device

import (
	"errors"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/accelq/internal/accel"
	"github.com/samcharles93/accelq/internal/accel/sim"
)

func specs(n int, busy ...int) []sim.DeviceSpec {
	out := make([]sim.DeviceSpec, n)
	for _, b := range busy {
		out[b].Busy = true
	}
	return out
}

func TestSelectWrapsAround(t *testing.T) {
	t.Parallel()

	for n := 1; n <= 4; n++ {
		for preferred := 0; preferred < n; preferred++ {
			for free := 0; free < n; free++ {
				var busy []int
				for i := 0; i < n; i++ {
					if i != free {
						busy = append(busy, i)
					}
				}
				reg := NewRegistry(sim.New(sim.Config{Devices: specs(n, busy...)}))
				require.NoError(t, reg.Select(preferred), "n=%d preferred=%d free=%d", n, preferred, free)
				assert.Equal(t, free, reg.Accelerator().Index())
				require.NoError(t, reg.Close())
			}
		}
	}
}

func TestSelectPrefersRequestedIndex(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(sim.Default(4))
	require.NoError(t, reg.Select(6))
	t.Cleanup(func() { _ = reg.Close() })
	assert.Equal(t, 2, reg.Accelerator().Index())
	assert.Positive(t, reg.Host().Workers)
}

func TestSelectAllBusy(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(sim.New(sim.Config{Devices: specs(3, 0, 1, 2)}))
	err := reg.Select(1)

	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, []int{1, 2, 0}, unavailable.Tried)
	assert.Len(t, unavailable.Causes, 3)
	assert.ErrorIs(t, err, accel.ErrDeviceBusy)
	assert.False(t, reg.Selected())
}

func TestSelectNoDevices(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(sim.Default(0))
	require.ErrorIs(t, reg.Select(0), ErrNoDevices)
}

func TestSelectFaultPolicy(t *testing.T) {
	t.Parallel()

	broken := errors.New("driver/runtime version mismatch")
	devices := []sim.DeviceSpec{{Busy: true}, {Fault: broken}, {}}

	strict := NewRegistry(sim.New(sim.Config{Devices: devices}))
	err := strict.Select(0)
	require.ErrorIs(t, err, broken)
	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, []int{0, 1}, unavailable.Tried)
	require.Len(t, unavailable.Causes, 2)
	assert.ErrorIs(t, unavailable.Causes[0], accel.ErrDeviceBusy)
	assert.ErrorIs(t, unavailable.Causes[1], broken)
	assert.Contains(t, err.Error(), "tried [0 1]")
	assert.False(t, strict.Selected())

	lenient := NewRegistry(sim.New(sim.Config{Devices: devices}), WithFaultPolicy(SkipFaulty))
	require.NoError(t, lenient.Select(0))
	t.Cleanup(func() { _ = lenient.Close() })
	assert.Equal(t, 2, lenient.Accelerator().Index())
}

func TestSelectIsImmutable(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(sim.Default(2))
	require.NoError(t, reg.Select(0))
	t.Cleanup(func() { _ = reg.Close() })
	require.ErrorIs(t, reg.Select(1), ErrAlreadySelected)
	assert.Equal(t, 0, reg.Accelerator().Index())
}

func TestHandlesBeforeSelectPanic(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(sim.Default(1))
	err := exceptions.TryCatch[error](func() { reg.Accelerator() })
	require.Error(t, err)
	err = exceptions.TryCatch[error](func() { reg.Host() })
	require.Error(t, err)
}

func TestParseFaultPolicy(t *testing.T) {
	t.Parallel()

	p, err := ParseFaultPolicy("skip")
	require.NoError(t, err)
	assert.Equal(t, SkipFaulty, p)

	p, err = ParseFaultPolicy("")
	require.NoError(t, err)
	assert.Equal(t, FailFast, p)

	_, err = ParseFaultPolicy("retry")
	require.Error(t, err)
}
