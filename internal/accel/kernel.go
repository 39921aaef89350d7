package accel

import "fmt"

// Dim3 is a grid or block shape.
type Dim3 struct {
	X, Y, Z int64
}

// D3 returns a Dim3, treating zero components as 1.
func D3(x, y, z int64) Dim3 {
	return Dim3{X: max(x, 1), Y: max(y, 1), Z: max(z, 1)}
}

func (d Dim3) Count() int64 {
	return d.X * d.Y * d.Z
}

func (d Dim3) String() string {
	return fmt.Sprintf("(%d, %d, %d)", d.X, d.Y, d.Z)
}

// Unflatten converts a linear index into coordinates inside d.
func (d Dim3) Unflatten(i int64) Dim3 {
	return Dim3{X: i % d.X, Y: (i / d.X) % d.Y, Z: i / (d.X * d.Y)}
}

// LaunchConfig is the grid and block shape of a kernel launch.
type LaunchConfig struct {
	Grid  Dim3
	Block Dim3
}

func (c LaunchConfig) String() string {
	return fmt.Sprintf("grid=%s block=%s", c.Grid, c.Block)
}

// Block is the execution context handed to a KernelFunc for one block.
type Block struct {
	Idx  Dim3
	Dim  Dim3
	Grid Dim3
	Args []any
}

// Threads calls fn for every thread index of the block, x fastest.
func (b Block) Threads(fn func(t Dim3)) {
	for z := int64(0); z < b.Dim.Z; z++ {
		for y := int64(0); y < b.Dim.Y; y++ {
			for x := int64(0); x < b.Dim.X; x++ {
				fn(Dim3{X: x, Y: y, Z: z})
			}
		}
	}
}

// Global returns the grid-wide coordinate of thread t.
func (b Block) Global(t Dim3) Dim3 {
	return Dim3{
		X: b.Idx.X*b.Dim.X + t.X,
		Y: b.Idx.Y*b.Dim.Y + t.Y,
		Z: b.Idx.Z*b.Dim.Z + t.Z,
	}
}

// Built-in kernels. Native drivers ship an image for each; parameters are
// listed in order.
const (
	// KernelSetSize(dst Span, size uint64) stores size at dst.
	KernelSetSize = "set_size"
	// KernelFillValue(dst Span, pitch, slice, nx, elem int64, value []byte)
	// broadcasts a value of at most MaxValueBytes to every element of an
	// nx * grid.Y * grid.Z box.
	KernelFillValue = "fill_value"
	// KernelFillPointer(dst Span, pitch, slice, nx, elem int64, src Span)
	// broadcasts the element stored at src.
	KernelFillPointer = "fill_pointer"
)

// MaxValueBytes is the largest value KernelFillValue takes by value.
const MaxValueBytes = 256

// KernelFunc runs one block of a kernel on the host.
type KernelFunc func(b Block)

// Kernel describes a launchable function. Drivers that execute on the host
// use Func; native drivers load PTX, or a built-in image registered under
// Name when PTX is empty. Kernel arguments are Span values (passed as device
// addresses), fixed-size scalars, or []byte blobs passed by value.
type Kernel struct {
	Name string
	Func KernelFunc
	PTX  string
}
