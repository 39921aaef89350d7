package mapping

import (
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/accelq/internal/accel"
	"github.com/samcharles93/accelq/internal/layout"
)

func TestAreaCounts(t *testing.T) {
	t.Parallel()

	d := must.M1(New(layout.S(8, 8), layout.S(2, 2), layout.S(1, 1)))
	require.Equal(t, layout.S(6, 6), d.GridSuperCells())
	require.Equal(t, layout.S(12, 12), d.Cells())

	tests := []struct {
		area Area
		want int64
	}{
		{Core, 4},
		{Border, 12},
		{Guard, 20},
		{Core | Border, 16},
		{Border | Guard, 32},
		{All, 36},
	}
	for _, tt := range tests {
		t.Run(tt.area.String(), func(t *testing.T) {
			t.Parallel()
			m := d.Area(tt.area)
			require.Equal(t, tt.want, m.Count())
			require.Equal(t, tt.want, m.LaunchConfig().Grid.Count())
		})
	}
}

func TestBoxAreasOffsetIntoGrid(t *testing.T) {
	t.Parallel()

	d := must.M1(New(layout.S(8, 8), layout.S(2, 2), layout.S(1, 1)))
	core := d.Area(Core)
	cfg := core.LaunchConfig()
	require.Equal(t, accel.D3(2, 2, 1), cfg.Grid)
	require.Equal(t, accel.D3(2, 2, 1), cfg.Block)
	require.Equal(t, layout.S(2, 2), core.SuperCellIndex(accel.Dim3{}))
	require.Equal(t, layout.S(6, 4), core.CellOffset(accel.Dim3{X: 1}))

	cb := d.Area(Core | Border)
	require.Equal(t, layout.S(1, 1), cb.SuperCellIndex(accel.Dim3{}))
	require.Equal(t, layout.S(4, 4), cb.SuperCellIndex(accel.Dim3{X: 3, Y: 3}))
}

func TestEnumeratedAreasClassify(t *testing.T) {
	t.Parallel()

	d := must.M1(New(layout.S(6, 4, 4), layout.S(2, 2, 2), layout.S(1, 1, 1)))
	for _, area := range []Area{Border, Guard, Border | Guard, Core | Guard} {
		m := d.Area(area)
		cfg := m.LaunchConfig()
		require.Equal(t, m.Count(), cfg.Grid.X)
		for i := int64(0); i < m.Count(); i++ {
			sc := m.SuperCellIndex(accel.Dim3{X: i})
			require.NotZero(t, d.Classify(sc)&area, "%s at %s", area, sc)
		}
	}
}

func TestZeroGuardIsAllCore(t *testing.T) {
	t.Parallel()

	d := must.M1(New(layout.S(16), layout.S(4), layout.S(0)))
	require.EqualValues(t, 4, d.Area(Core).Count())
	require.Zero(t, d.Area(Border).Count())
	require.Zero(t, d.Area(Guard).Count())
}

func TestNewRejectsBadShapes(t *testing.T) {
	t.Parallel()

	_, err := New(layout.S(7, 8), layout.S(2, 2), layout.S(1, 1))
	require.Error(t, err)
	_, err = New(layout.S(8), layout.S(2, 2), layout.S(1, 1))
	require.Error(t, err)
	_, err = New(layout.S(8), layout.S(0), layout.S(1))
	require.Error(t, err)
}

func TestAreaString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "CORE+BORDER", (Core | Border).String())
	require.Equal(t, "GUARD", Guard.String())
	require.Equal(t, "NONE", Area(0).String())
}
