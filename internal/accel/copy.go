package accel

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/samcharles93/accelq/internal/layout"
)

// Span addresses a laid-out region inside a Memory.
type Span struct {
	Mem    Memory
	Offset int64
	Layout layout.Layout
}

// Bytes returns the addressable bytes of s starting at its first element.
// It panics when the memory is not Addressable.
func (s Span) Bytes() []byte {
	a, ok := s.Mem.(Addressable)
	if !ok {
		exceptions.Panicf("accel: %s memory is not host addressable", s.Mem.Kind())
	}
	return a.Bytes()[s.Offset:]
}

// Direction classifies a copy by the kinds of its endpoints.
type Direction int

const (
	HostToHost Direction = iota
	HostToDevice
	DeviceToHost
	DeviceToDevice
)

func (d Direction) String() string {
	switch d {
	case HostToDevice:
		return "h2d"
	case DeviceToHost:
		return "d2h"
	case DeviceToDevice:
		return "d2d"
	default:
		return "h2h"
	}
}

// CopyOp copies the box Box anchored at the origin of Src to the same
// coordinates in Dst.
type CopyOp struct {
	Dst, Src Span
	Box      layout.Space
}

// Linear reports whether both endpoints are rank 1, which allows a single
// contiguous transfer.
func (op CopyOp) Linear() bool {
	return op.Dst.Layout.IsLinear() && op.Src.Layout.IsLinear()
}

func (op CopyOp) Direction() Direction {
	src, dst := op.Src.Mem.Kind(), op.Dst.Mem.Kind()
	switch {
	case src == MemHost && dst == MemDevice:
		return HostToDevice
	case src == MemDevice && dst == MemHost:
		return DeviceToHost
	case src == MemDevice && dst == MemDevice:
		return DeviceToDevice
	default:
		return HostToHost
	}
}

// Bytes returns the payload size of the copy.
func (op CopyOp) Bytes() int64 {
	return op.Box.Product() * op.Src.Layout.ElemSize
}

// Validate checks that both endpoints agree on element size and rank and
// that the box fits inside both extents and allocations.
func (op CopyOp) Validate() error {
	if op.Dst.Mem == nil || op.Src.Mem == nil {
		return errors.New("accel: copy endpoint without memory")
	}
	if op.Dst.Layout.ElemSize != op.Src.Layout.ElemSize {
		return errors.Errorf("accel: copy element size mismatch: dst %d, src %d",
			op.Dst.Layout.ElemSize, op.Src.Layout.ElemSize)
	}
	if op.Linear() {
		if op.Box.Rank() != 1 {
			return errors.Errorf("accel: linear copy with box %s", op.Box)
		}
	} else if op.Dst.Layout.Rank() != op.Src.Layout.Rank() || op.Box.Rank() != op.Src.Layout.Rank() {
		return errors.Errorf("accel: copy rank mismatch: dst %d, src %d, box %d",
			op.Dst.Layout.Rank(), op.Src.Layout.Rank(), op.Box.Rank())
	}
	if !op.Linear() && (!op.Dst.Layout.Extent.Covers(op.Box) || !op.Src.Layout.Extent.Covers(op.Box)) {
		return errors.Errorf("accel: copy box %s exceeds dst %s or src %s",
			op.Box, op.Dst.Layout.Extent, op.Src.Layout.Extent)
	}
	if op.Linear() && (op.Box[0] > op.Dst.Layout.Extent[0] || op.Box[0] > op.Src.Layout.Extent[0]) {
		return errors.Errorf("accel: copy of %d elements exceeds dst %s or src %s",
			op.Box[0], op.Dst.Layout.Extent, op.Src.Layout.Extent)
	}
	if err := fits(op.Dst, op.Box); err != nil {
		return errors.Wrap(err, "dst")
	}
	return errors.Wrap(fits(op.Src, op.Box), "src")
}

func fits(s Span, box layout.Space) error {
	if box.Product() == 0 {
		return nil
	}
	last := box.Clone()
	for d := range last {
		last[d]--
	}
	end := s.Offset + s.Layout.Offset(last) + s.Layout.ElemSize
	if s.Offset < 0 || end > s.Mem.Len() {
		return errors.Errorf("accel: span [%d, %d) outside %d byte allocation", s.Offset, end, s.Mem.Len())
	}
	return nil
}

// Rows calls fn once per contiguous run of the copy with absolute byte
// offsets into each memory and the run length.
func (op CopyOp) Rows(fn func(dstOff, srcOff, n int64)) {
	if op.Box.Product() == 0 {
		return
	}
	rowBytes := op.Box[0] * op.Src.Layout.ElemSize
	if op.Linear() {
		fn(op.Dst.Offset, op.Src.Offset, rowBytes)
		return
	}
	ny, nz := int64(1), int64(1)
	if op.Box.Rank() > 1 {
		ny = op.Box[1]
	}
	if op.Box.Rank() > 2 {
		nz = op.Box[2]
	}
	idx := layout.Zero(op.Box.Rank())
	for z := int64(0); z < nz; z++ {
		for y := int64(0); y < ny; y++ {
			if len(idx) > 1 {
				idx[1] = y
			}
			if len(idx) > 2 {
				idx[2] = z
			}
			fn(op.Dst.Offset+op.Dst.Layout.Offset(idx), op.Src.Offset+op.Src.Layout.Offset(idx), rowBytes)
		}
	}
}

// MemsetRows is the Rows walk for a single span.
func MemsetRows(dst Span, box layout.Space, fn func(off, n int64)) {
	rowBytes := int64(0)
	if box.Rank() > 0 {
		rowBytes = box[0] * dst.Layout.ElemSize
	}
	dst.Layout.Rows(box, func(rowOffset int64) {
		fn(dst.Offset+rowOffset, rowBytes)
	})
}
