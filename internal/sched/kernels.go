package sched

import (
	"encoding/binary"

	"github.com/samcharles93/accelq/internal/accel"
	"github.com/samcharles93/accelq/internal/layout"
)

// FillBlockSize is the thread count of fill kernel blocks.
const FillBlockSize = 256

var (
	setSizeKernel = &accel.Kernel{Name: accel.KernelSetSize, Func: func(b accel.Block) {
		dst := b.Args[0].(accel.Span)
		binary.NativeEndian.PutUint64(dst.Bytes(), b.Args[1].(uint64))
	}}
	fillValueKernel   = &accel.Kernel{Name: accel.KernelFillValue, Func: fill}
	fillPointerKernel = &accel.Kernel{Name: accel.KernelFillPointer, Func: fill}
)

// fill broadcasts one element over a box. Threads in x cover one row, grid
// y and z select the row and plane.
func fill(b accel.Block) {
	dst := b.Args[0].(accel.Span)
	pitch, slice, nx, elem := b.Args[1].(int64), b.Args[2].(int64), b.Args[3].(int64), b.Args[4].(int64)
	var value []byte
	switch v := b.Args[5].(type) {
	case []byte:
		value = v[:elem]
	case accel.Span:
		value = v.Bytes()[:elem]
	}
	buf := dst.Bytes()
	b.Threads(func(t accel.Dim3) {
		x := b.Global(t).X
		if x >= nx {
			return
		}
		off := x*elem + b.Idx.Y*pitch + b.Idx.Z*slice
		copy(buf[off:off+elem], value)
	})
}

// fillLaunch covers box with line-wise blocks of FillBlockSize threads.
func fillLaunch(box layout.Space) accel.LaunchConfig {
	ny, nz := int64(1), int64(1)
	if box.Rank() > 1 {
		ny = box[1]
	}
	if box.Rank() > 2 {
		nz = box[2]
	}
	return accel.LaunchConfig{
		Grid:  accel.D3((box[0]+FillBlockSize-1)/FillBlockSize, ny, nz),
		Block: accel.D3(FillBlockSize, 1, 1),
	}
}

func slicePitch(l layout.Layout) int64 {
	if l.Rank() > 2 {
		return l.Strides[2]
	}
	return 0
}

var single = accel.LaunchConfig{Grid: accel.D3(1, 1, 1), Block: accel.D3(1, 1, 1)}
