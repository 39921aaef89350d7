package bench

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samcharles93/accelq/internal/accel/sim"
	"github.com/samcharles93/accelq/internal/environment"
	"github.com/samcharles93/accelq/internal/layout"
)

func newEnv(t *testing.T) *environment.Environment {
	t.Helper()
	env, err := environment.New(sim.Default(1), environment.Config{HostWorkers: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	return env
}

func TestRunVerifiesPipeline(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "pitched", cfg: Config{Extent: layout.S(100, 30), Iterations: 2}},
		{name: "linear base", cfg: Config{Extent: layout.S(100, 30), Iterations: 2, LinearBase: true}},
		{name: "1-D", cfg: Config{Extent: layout.S(4096), Iterations: 3}},
		{name: "3-D", cfg: Config{Extent: layout.S(7, 5, 3), Iterations: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newEnv(t)
			res, err := Run(context.Background(), env, tt.cfg)
			require.NoError(t, err)
			require.True(t, res.Verified)
			require.Equal(t, tt.cfg.Iterations, res.Iterations)
			require.EqualValues(t, int64(tt.cfg.Iterations)*16*tt.cfg.Extent.Product(), res.Bytes)
			// Each round issues five tasks.
			require.EqualValues(t, 5*tt.cfg.Iterations, res.Tasks)
			require.NotEmpty(t, res.String())
		})
	}
}

func TestRunDefaults(t *testing.T) {
	t.Parallel()

	res, err := Run(context.Background(), newEnv(t), Config{Extent: layout.S(64, 64)})
	require.NoError(t, err)
	require.Equal(t, DefaultIterations, res.Iterations)
	require.Positive(t, res.Throughput())
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, newEnv(t), Config{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunRejectsBadExtent(t *testing.T) {
	t.Parallel()

	_, err := Run(context.Background(), newEnv(t), Config{Extent: layout.S(-1, 4)})
	require.Error(t, err)
}
