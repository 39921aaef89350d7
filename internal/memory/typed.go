package memory

import (
	"unsafe"

	"github.com/gomlx/exceptions"

	"github.com/samcharles93/accelq/internal/layout"
)

// Load reads the element at idx as a T. T must have the element size.
func Load[T any](b *HostBuffer, idx layout.Space) T {
	return *(*T)(elementPointer[T](b, idx))
}

// Store writes v to the element at idx.
func Store[T any](b *HostBuffer, idx layout.Space, v T) {
	*(*T)(elementPointer[T](b, idx)) = v
}

// ValueBytes returns the in-memory bytes of v, the form SetValue takes.
func ValueBytes[T any](v T) []byte {
	out := make([]byte, unsafe.Sizeof(v))
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(&v)), len(out)))
	return out
}

// Elements returns every element of a dense buffer as a []T sharing its
// memory.
func Elements[T any](b *HostBuffer) []T {
	l := b.span.Layout
	checkSize[T](l.ElemSize)
	if !l.IsDense() {
		exceptions.Panicf("memory: Elements on a buffer with pitch %d", l.Pitch())
	}
	n := l.Capacity()
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b.Bytes()[0])), n)
}

func elementPointer[T any](b *HostBuffer, idx layout.Space) unsafe.Pointer {
	checkSize[T](b.span.Layout.ElemSize)
	return unsafe.Pointer(&b.Element(idx)[0])
}

func checkSize[T any](elemSize int64) {
	var zero T
	if int64(unsafe.Sizeof(zero)) != elemSize {
		exceptions.Panicf("memory: %T has %d bytes, elements have %d", zero, unsafe.Sizeof(zero), elemSize)
	}
}
