package life

import (
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/accelq/internal/accel/sim"
	"github.com/samcharles93/accelq/internal/layout"
	"github.com/samcharles93/accelq/internal/sched"
)

func newSimulation(t *testing.T, cells layout.Space) *Simulation {
	t.Helper()
	dev := must.M1(sim.Default(1).Open(0))
	s := must.M1(sched.New(dev, sched.Config{}))
	g := must.M1(New(s, Config{Cells: cells, SuperCell: layout.S(4, 4)}))
	t.Cleanup(func() {
		_ = s.Close()
		_ = g.Close()
		_ = dev.Close()
	})
	return g
}

func grid(n int, cells ...[2]int) [][]bool {
	out := make([][]bool, n)
	for y := range out {
		out[y] = make([]bool, n)
	}
	for _, c := range cells {
		out[c[1]][c[0]] = true
	}
	return out
}

func TestBlinkerOscillates(t *testing.T) {
	t.Parallel()

	g := newSimulation(t, layout.S(16, 16))
	horizontal := grid(16, [2]int{7, 8}, [2]int{8, 8}, [2]int{9, 8})
	vertical := grid(16, [2]int{8, 7}, [2]int{8, 8}, [2]int{8, 9})

	g.Load(horizontal)
	g.Step()
	require.Equal(t, vertical, g.Snapshot())
	g.Step().WaitForFinished()
	require.Equal(t, horizontal, g.Snapshot())
	require.Equal(t, 2, g.Steps())
}

func TestGliderWrapsAroundTorus(t *testing.T) {
	t.Parallel()

	g := newSimulation(t, layout.S(16, 16))
	glider := grid(16, [2]int{1, 0}, [2]int{2, 1}, [2]int{0, 2}, [2]int{1, 2}, [2]int{2, 2})
	g.Load(glider)
	// A glider moves one cell diagonally every four generations.
	for i := 0; i < 4*16; i++ {
		g.Step()
	}
	require.Equal(t, glider, g.Snapshot())
}

func TestRandomizeIsSeeded(t *testing.T) {
	t.Parallel()

	a := newSimulation(t, layout.S(16, 8))
	b := newSimulation(t, layout.S(16, 8))
	a.Randomize(42, 0.3)
	b.Randomize(42, 0.3)
	snap := a.Snapshot()
	require.Equal(t, snap, b.Snapshot())
	require.Len(t, snap, 8)
	require.Len(t, snap[0], 16)
	require.Positive(t, Alive(snap))

	a.Randomize(7, 1)
	require.Equal(t, 16*8, Alive(a.Snapshot()))
	a.Randomize(7, 0)
	require.Zero(t, Alive(a.Snapshot()))
}

func TestNewRejectsBadGrid(t *testing.T) {
	t.Parallel()

	dev := must.M1(sim.Default(1).Open(0))
	s := must.M1(sched.New(dev, sched.Config{}))
	defer func() {
		_ = s.Close()
		_ = dev.Close()
	}()
	_, err := New(s, Config{Cells: layout.S(16)})
	require.Error(t, err)
	_, err = New(s, Config{Cells: layout.S(15, 16)})
	require.Error(t, err)
}

func TestParseRule(t *testing.T) {
	t.Parallel()

	r, err := ParseRule("23/3")
	require.NoError(t, err)
	require.Equal(t, Conway, r)
	require.Equal(t, "23/3", r.String())

	highLife, err := ParseRule("23/36")
	require.NoError(t, err)
	require.True(t, highLife.Next(false, 6))
	require.False(t, Conway.Next(false, 6))
	require.True(t, Conway.Next(true, 2))
	require.False(t, Conway.Next(true, 4))

	for _, bad := range []string{"233", "2a/3", "9/3"} {
		_, err := ParseRule(bad)
		require.Error(t, err, bad)
	}
}
