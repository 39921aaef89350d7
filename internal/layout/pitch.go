package layout

import (
	"slices"

	"github.com/pkg/errors"
)

// Layout is the byte layout of an N-dimensional block of elements.
//
// Strides holds one byte stride per dimension: Strides[0] is the element
// size, Strides[1] the row pitch and Strides[2] the slice pitch. Strides are
// computed once when the layout is built and validated against the extent.
type Layout struct {
	Extent   Space
	ElemSize int64
	Strides  []int64
}

// Dense returns a layout without padding.
func Dense(extent Space, elemSize int64) (Layout, error) {
	if err := extent.Validate(); err != nil {
		return Layout{}, err
	}
	return Pitched(extent, elemSize, extent[0]*elemSize)
}

// Aligned returns a layout whose row pitch is rounded up to align bytes, the
// way pitched device allocations pad their rows. Rank-1 layouts stay dense.
func Aligned(extent Space, elemSize, align int64) (Layout, error) {
	if err := extent.Validate(); err != nil {
		return Layout{}, err
	}
	row := extent[0] * elemSize
	if extent.Rank() > 1 {
		row = RoundUp(row, align)
	}
	return Pitched(extent, elemSize, row)
}

// Pitched returns a layout with an explicit row pitch in bytes.
func Pitched(extent Space, elemSize, rowPitch int64) (Layout, error) {
	if err := extent.Validate(); err != nil {
		return Layout{}, err
	}
	strides := make([]int64, extent.Rank())
	strides[0] = elemSize
	if extent.Rank() > 1 {
		strides[1] = rowPitch
	}
	for d := 2; d < extent.Rank(); d++ {
		strides[d] = strides[d-1] * extent[d-1]
	}
	l := Layout{Extent: extent.Clone(), ElemSize: elemSize, Strides: strides}
	if err := l.Validate(); err != nil {
		return Layout{}, err
	}
	return l, nil
}

// Validate checks that strides are non-negative and never overlap the
// previous dimension.
func (l Layout) Validate() error {
	if err := l.Extent.Validate(); err != nil {
		return err
	}
	if l.ElemSize <= 0 {
		return errors.Errorf("layout: element size must be > 0, got %d", l.ElemSize)
	}
	if len(l.Strides) != l.Extent.Rank() {
		return errors.Errorf("layout: %d strides for rank %d", len(l.Strides), l.Extent.Rank())
	}
	if l.Strides[0] != l.ElemSize {
		return errors.Errorf("layout: x stride %d differs from element size %d", l.Strides[0], l.ElemSize)
	}
	for d := 1; d < len(l.Strides); d++ {
		if l.Strides[d] < 0 {
			return errors.Errorf("layout: negative stride %d in dimension %d", l.Strides[d], d)
		}
		if l.Strides[d] < l.Strides[d-1]*l.Extent[d-1] {
			return errors.Errorf("layout: stride %d of dimension %d overlaps %d elements of %d bytes",
				l.Strides[d], d, l.Extent[d-1], l.Strides[d-1])
		}
	}
	return nil
}

func (l Layout) Rank() int {
	return l.Extent.Rank()
}

// Capacity returns the number of elements the layout can hold.
func (l Layout) Capacity() int64 {
	return l.Extent.Product()
}

// Pitch returns the row pitch in bytes.
func (l Layout) Pitch() int64 {
	if l.Rank() > 1 {
		return l.Strides[1]
	}
	return l.Extent[0] * l.ElemSize
}

// IsLinear reports whether the layout is rank 1.
func (l Layout) IsLinear() bool {
	return l.Rank() == 1
}

// IsDense reports whether consecutive elements are stored without padding.
func (l Layout) IsDense() bool {
	want := l.ElemSize
	for d := 0; d < l.Rank(); d++ {
		if l.Strides[d] != want {
			return false
		}
		want *= l.Extent[d]
	}
	return true
}

// Offset returns the byte offset of idx relative to the layout base.
func (l Layout) Offset(idx Space) int64 {
	var off int64
	for d := 0; d < len(idx) && d < len(l.Strides); d++ {
		off += idx[d] * l.Strides[d]
	}
	return off
}

// Contains reports whether idx lies inside the extent.
func (l Layout) Contains(idx Space) bool {
	if len(idx) != l.Rank() {
		return false
	}
	for d := range idx {
		if idx[d] < 0 || idx[d] >= l.Extent[d] {
			return false
		}
	}
	return true
}

// Index converts a row-major linear element index into coordinates.
func (l Layout) Index(linear int64) Space {
	idx := Zero(l.Rank())
	for d := 0; d < l.Rank(); d++ {
		if l.Extent[d] == 0 {
			return idx
		}
		idx[d] = linear % l.Extent[d]
		linear /= l.Extent[d]
	}
	return idx
}

// Footprint returns the number of bytes between the base and the end of the
// last element.
func (l Layout) Footprint() int64 {
	if l.Capacity() == 0 {
		return 0
	}
	last := l.Extent.Clone()
	for d := range last {
		last[d]--
	}
	return l.Offset(last) + l.ElemSize
}

// CurrentExtent is CurrentExtent(l.Extent, n).
func (l Layout) CurrentExtent(n int64) Space {
	return CurrentExtent(l.Extent, n)
}

// View returns the layout of a sub-block starting at offset and the byte
// offset of its first element. The view keeps this layout's strides, so a
// view of a view still steps by the pitch of the root allocation.
func (l Layout) View(offset, extent Space) (Layout, int64, error) {
	if offset.Rank() != l.Rank() || extent.Rank() != l.Rank() {
		return Layout{}, 0, errors.Errorf("layout: view rank mismatch: parent %d, offset %d, extent %d",
			l.Rank(), offset.Rank(), extent.Rank())
	}
	if err := extent.Validate(); err != nil {
		return Layout{}, 0, err
	}
	if err := offset.Validate(); err != nil {
		return Layout{}, 0, err
	}
	if !l.Extent.Covers(offset.Add(extent)) {
		return Layout{}, 0, errors.Errorf("layout: view %s at %s exceeds extent %s", extent, offset, l.Extent)
	}
	v := Layout{Extent: extent.Clone(), ElemSize: l.ElemSize, Strides: slices.Clone(l.Strides)}
	if err := v.Validate(); err != nil {
		return Layout{}, 0, err
	}
	return v, l.Offset(offset), nil
}

// Rows calls fn with the byte offset of the first element of every row of
// box, walking y then z. box must lie inside the extent.
func (l Layout) Rows(box Space, fn func(rowOffset int64)) {
	if box.Product() == 0 {
		return
	}
	switch l.Rank() {
	case 1:
		fn(0)
	case 2:
		for y := int64(0); y < box[1]; y++ {
			fn(y * l.Strides[1])
		}
	default:
		for z := int64(0); z < box[2]; z++ {
			for y := int64(0); y < box[1]; y++ {
				fn(z*l.Strides[2] + y*l.Strides[1])
			}
		}
	}
}
