package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentExtent(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		full Space
		n    int64
		want Space
	}{
		{"linear", S(100), 42, S(42)},
		{"empty", S(4, 4), 0, S(0, 0)},
		{"partial row", S(4, 4), 3, S(3, 1)},
		{"whole rows", S(4, 4), 8, S(4, 2)},
		{"ragged rows", S(4, 4), 9, S(4, 3)},
		{"full 2d", S(4, 4), 16, S(4, 4)},
		{"3d partial row", S(4, 3, 2), 2, S(2, 1, 1)},
		{"3d within plane", S(4, 3, 2), 7, S(4, 2, 1)},
		{"3d planes", S(4, 3, 2), 13, S(4, 3, 2)},
		{"full 3d", S(4, 3, 2), 24, S(4, 3, 2)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CurrentExtent(tc.full, tc.n)
			assert.Truef(t, got.Equal(tc.want), "CurrentExtent(%s, %d) = %s, want %s", tc.full, tc.n, got, tc.want)
			if tc.n > 0 {
				assert.GreaterOrEqual(t, got.Product(), tc.n)
			}
		})
	}
}

func TestAlignedPitch(t *testing.T) {
	t.Parallel()

	l, err := Aligned(S(10, 3, 2), 4, 256)
	require.NoError(t, err)
	assert.Equal(t, int64(256), l.Pitch())
	assert.Equal(t, []int64{4, 256, 768}, l.Strides)
	assert.False(t, l.IsDense())
	assert.Equal(t, int64(60), l.Capacity())
	assert.Equal(t, l.Offset(S(9, 2, 1)), int64(9*4+2*256+768))
	assert.Equal(t, l.Offset(S(9, 2, 1))+4, l.Footprint())

	lin, err := Aligned(S(10), 4, 256)
	require.NoError(t, err)
	assert.True(t, lin.IsDense())
	assert.Equal(t, int64(40), lin.Pitch())
}

func TestValidateRejectsOverlap(t *testing.T) {
	t.Parallel()

	_, err := Pitched(S(10, 2), 4, 39)
	require.Error(t, err)

	bad := Layout{Extent: S(4, 4), ElemSize: 4, Strides: []int64{4, -1}}
	require.Error(t, bad.Validate())

	_, err = Dense(S(1, 1, 1, 1), 1)
	require.Error(t, err)
}

func TestViewDerivesPitchFromParent(t *testing.T) {
	t.Parallel()

	parent, err := Pitched(S(8, 6, 4), 2, 32)
	require.NoError(t, err)

	view, base, err := parent.View(S(1, 2, 1), S(3, 2, 2))
	require.NoError(t, err)
	assert.Equal(t, parent.Offset(S(1, 2, 1)), base)
	assert.Equal(t, int64(32), view.Pitch())
	assert.Equal(t, int64(32*6), view.Strides[2])

	// Element (0,0,0) of the view is element (1,2,1) of the parent.
	assert.Equal(t, parent.Offset(S(2, 3, 2)), base+view.Offset(S(1, 1, 1)))

	_, _, err = parent.View(S(6, 0, 0), S(3, 1, 1))
	require.Error(t, err)

	inner, innerBase, err := view.View(S(1, 1, 1), S(2, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, view.Strides, inner.Strides)
	assert.Equal(t, parent.Offset(S(2, 3, 2)), base+innerBase)
}

func TestRowsWalk(t *testing.T) {
	t.Parallel()

	l, err := Pitched(S(4, 3, 2), 1, 8)
	require.NoError(t, err)

	var offsets []int64
	l.Rows(S(4, 2, 2), func(off int64) { offsets = append(offsets, off) })
	assert.Equal(t, []int64{0, 8, 24, 32}, offsets)

	offsets = offsets[:0]
	l.Rows(S(0, 2, 2), func(off int64) { offsets = append(offsets, off) })
	assert.Empty(t, offsets)
}

func TestIndexRoundTrip(t *testing.T) {
	t.Parallel()

	l, err := Dense(S(5, 4, 3), 8)
	require.NoError(t, err)
	for i := int64(0); i < l.Capacity(); i++ {
		idx := l.Index(i)
		require.True(t, l.Contains(idx))
		assert.Equal(t, i*8, l.Offset(idx))
	}
}
