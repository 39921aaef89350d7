// Package layout describes N-dimensional element extents and the pitched byte
// layouts buffers use to store them. X is always the fastest-varying dimension.
package layout

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// MaxRank is the highest supported number of dimensions.
const MaxRank = 3

// Space is an extent or an index with one entry per dimension.
type Space []int64

// S builds a Space from its components.
func S(components ...int64) Space {
	return Space(components)
}

func (s Space) Rank() int {
	return len(s)
}

// Product returns the number of elements spanned by s.
func (s Space) Product() int64 {
	if len(s) == 0 {
		return 0
	}
	p := int64(1)
	for _, v := range s {
		p *= v
	}
	return p
}

func (s Space) Clone() Space {
	if s == nil {
		return nil
	}
	out := make(Space, len(s))
	copy(out, s)
	return out
}

// Covers reports whether s is at least as large as o in every dimension.
func (s Space) Covers(o Space) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] < o[i] {
			return false
		}
	}
	return true
}

func (s Space) Equal(o Space) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Add returns the component-wise sum of s and o.
func (s Space) Add(o Space) Space {
	out := s.Clone()
	for i := range out {
		out[i] += o[i]
	}
	return out
}

func (s Space) String() string {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Validate checks rank bounds and that no component is negative.
func (s Space) Validate() error {
	if len(s) == 0 || len(s) > MaxRank {
		return errors.Errorf("layout: rank %d out of range [1, %d]", len(s), MaxRank)
	}
	for i, v := range s {
		if v < 0 {
			return errors.Errorf("layout: negative component %d in dimension %d of %s", v, i, s)
		}
	}
	return nil
}

// Zero returns an all-zero Space of the given rank.
func Zero(rank int) Space {
	return make(Space, rank)
}

// CurrentExtent returns the bounding box of the first n elements of full in
// row-major order: whole rows once n exceeds one row, whole planes once it
// exceeds one plane. CurrentExtent(full, full.Product()) equals full.
func CurrentExtent(full Space, n int64) Space {
	out := Zero(len(full))
	if n <= 0 || len(full) == 0 {
		return out
	}
	switch len(full) {
	case 1:
		out[0] = n
	case 2:
		x := full[0]
		if n <= x {
			out[0], out[1] = n, 1
		} else {
			out[0], out[1] = x, ceilDiv(n, x)
		}
	default:
		x, y := full[0], full[1]
		if n <= x {
			out[0], out[1], out[2] = n, 1, 1
			break
		}
		rows := ceilDiv(n, x)
		if rows <= y {
			out[0], out[1], out[2] = x, rows, 1
		} else {
			out[0], out[1], out[2] = x, y, ceilDiv(rows, y)
		}
	}
	return out
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// RoundUp rounds v up to a multiple of align (align <= 1 returns v).
func RoundUp(v, align int64) int64 {
	if align <= 1 {
		return v
	}
	return ceilDiv(v, align) * align
}
