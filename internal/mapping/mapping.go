// Package mapping maps kernel blocks onto supercells. A grid of supercells
// carries a guard region around the local domain; the outermost layer of
// the domain next to the guard is the border and everything inside it is
// the core.
package mapping

import (
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/samcharles93/accelq/internal/accel"
	"github.com/samcharles93/accelq/internal/layout"
)

// Area is a set of supercell regions.
type Area uint8

const (
	Core Area = 1 << iota
	Border
	Guard

	All = Core | Border | Guard
)

func (a Area) String() string {
	if a == 0 {
		return "NONE"
	}
	var parts []string
	for _, p := range []struct {
		bit  Area
		name string
	}{{Core, "CORE"}, {Border, "BORDER"}, {Guard, "GUARD"}} {
		if a&p.bit != 0 {
			parts = append(parts, p.name)
		}
	}
	return strings.Join(parts, "+")
}

// Description is the supercell decomposition of a local domain.
type Description struct {
	superCell layout.Space
	guard     layout.Space
	grid      layout.Space
}

// New describes a domain of cells, excluding guard, tiled by superCell with
// guard supercells on each side. The border is as wide as the guard.
func New(cells, superCell, guard layout.Space) (Description, error) {
	if cells.Rank() != superCell.Rank() || cells.Rank() != guard.Rank() {
		return Description{}, errors.Errorf("mapping: rank mismatch: cells %s, supercell %s, guard %s", cells, superCell, guard)
	}
	for _, s := range []layout.Space{cells, superCell, guard} {
		if err := s.Validate(); err != nil {
			return Description{}, errors.Wrap(err, "mapping")
		}
	}
	grid := make(layout.Space, cells.Rank())
	for d := range cells {
		if superCell[d] == 0 || cells[d]%superCell[d] != 0 {
			return Description{}, errors.Errorf("mapping: %d cells in dimension %d not divisible by supercell %d", cells[d], d, superCell[d])
		}
		grid[d] = cells[d]/superCell[d] + 2*guard[d]
	}
	return Description{superCell: superCell.Clone(), guard: guard.Clone(), grid: grid}, nil
}

// SuperCell returns the cells per supercell, which is also the block shape.
func (d Description) SuperCell() layout.Space {
	return d.superCell.Clone()
}

// GuardSuperCells returns the guard width in supercells.
func (d Description) GuardSuperCells() layout.Space {
	return d.guard.Clone()
}

// GridSuperCells returns the supercell count including the guard.
func (d Description) GridSuperCells() layout.Space {
	return d.grid.Clone()
}

// Cells returns the cell extent including the guard.
func (d Description) Cells() layout.Space {
	out := d.grid.Clone()
	for i := range out {
		out[i] *= d.superCell[i]
	}
	return out
}

// Classify returns the single region the supercell sc belongs to.
func (d Description) Classify(sc layout.Space) Area {
	area := Core
	for i := range sc {
		g, n := d.guard[i], d.grid[i]
		switch {
		case sc[i] < g || sc[i] >= n-g:
			return Guard
		case sc[i] < 2*g || sc[i] >= n-2*g:
			area = Border
		}
	}
	return area
}

// Area returns the mapping that launches one block per supercell of a.
func (d Description) Area(a Area) AreaMapping {
	if a == 0 || a&^All != 0 {
		exceptions.Panicf("mapping: invalid area %d", a)
	}
	m := AreaMapping{desc: d, area: a}
	// Nested regions form boxes; other combinations are enumerated.
	switch a {
	case All:
		m.lo, m.extent = layout.Zero(d.grid.Rank()), d.grid.Clone()
	case Core | Border:
		m.lo, m.extent = d.inset(1)
	case Core:
		m.lo, m.extent = d.inset(2)
	default:
		d.walk(func(sc layout.Space) {
			if d.Classify(sc)&a != 0 {
				m.cells = append(m.cells, sc.Clone())
			}
		})
	}
	return m
}

// inset returns the box k guard widths inside the grid.
func (d Description) inset(k int64) (lo, extent layout.Space) {
	lo = make(layout.Space, d.grid.Rank())
	extent = make(layout.Space, d.grid.Rank())
	for i := range d.grid {
		lo[i] = k * d.guard[i]
		extent[i] = max(d.grid[i]-2*lo[i], 0)
	}
	return lo, extent
}

func (d Description) walk(fn func(sc layout.Space)) {
	n := d.grid.Product()
	sc := layout.Zero(d.grid.Rank())
	for i := int64(0); i < n; i++ {
		rem := i
		for k := range sc {
			sc[k] = rem % d.grid[k]
			rem /= d.grid[k]
		}
		fn(sc)
	}
}

// AreaMapping assigns kernel blocks to the supercells of an area.
type AreaMapping struct {
	desc   Description
	area   Area
	lo     layout.Space
	extent layout.Space
	cells  []layout.Space
}

func (m AreaMapping) Area() Area {
	return m.area
}

func (m AreaMapping) Description() Description {
	return m.desc
}

// Count returns the number of supercells covered.
func (m AreaMapping) Count() int64 {
	if m.cells != nil || m.extent == nil {
		return int64(len(m.cells))
	}
	return m.extent.Product()
}

// LaunchConfig returns one block per supercell with one thread per cell.
func (m AreaMapping) LaunchConfig() accel.LaunchConfig {
	block := dim3(m.desc.superCell)
	if m.extent != nil {
		return accel.LaunchConfig{Grid: dim3(m.extent), Block: block}
	}
	return accel.LaunchConfig{Grid: accel.Dim3{X: int64(len(m.cells)), Y: 1, Z: 1}, Block: block}
}

// SuperCellIndex returns the supercell, guard included, handled by block.
func (m AreaMapping) SuperCellIndex(block accel.Dim3) layout.Space {
	if m.extent == nil {
		return m.cells[block.X].Clone()
	}
	idx := []int64{block.X, block.Y, block.Z}
	out := m.lo.Clone()
	for i := range out {
		out[i] += idx[i]
	}
	return out
}

// CellOffset returns the first cell of the supercell handled by block.
func (m AreaMapping) CellOffset(block accel.Dim3) layout.Space {
	sc := m.SuperCellIndex(block)
	for i := range sc {
		sc[i] *= m.desc.superCell[i]
	}
	return sc
}

func dim3(s layout.Space) accel.Dim3 {
	v := [3]int64{1, 1, 1}
	copy(v[:], s)
	return accel.Dim3{X: v[0], Y: v[1], Z: v[2]}
}
