// Package life runs Conway-style cellular automata on the scheduler. It
// exercises area mappings, double-buffered device memory and host
// readback.
package life

import (
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/samcharles93/accelq/internal/accel"
	"github.com/samcharles93/accelq/internal/layout"
	"github.com/samcharles93/accelq/internal/logger"
	"github.com/samcharles93/accelq/internal/mapping"
	"github.com/samcharles93/accelq/internal/memory"
	"github.com/samcharles93/accelq/internal/sched"
)

var DefaultSuperCell = layout.S(16, 16)

type Config struct {
	// Cells is the 2-D domain size without guard.
	Cells     layout.Space
	SuperCell layout.Space
	Rule      Rule
	Logger    logger.Logger
}

// Simulation is a periodic 2-D grid stepped on the device.
type Simulation struct {
	s     *sched.Scheduler
	log   logger.Logger
	desc  mapping.Description
	rule  Rule
	grids [2]*memory.DeviceBuffer
	host  *memory.HostBuffer
	cur   int
	steps int
}

func New(s *sched.Scheduler, cfg Config) (*Simulation, error) {
	if cfg.SuperCell == nil {
		cfg.SuperCell = DefaultSuperCell
	}
	if cfg.Rule == 0 {
		cfg.Rule = Conway
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.Cells.Rank() != 2 {
		return nil, errors.Errorf("life: grid must be 2-D, got %s", cfg.Cells)
	}
	desc, err := mapping.New(cfg.Cells, cfg.SuperCell, layout.S(1, 1))
	if err != nil {
		return nil, errors.Wrap(err, "life")
	}
	sim := &Simulation{s: s, log: cfg.Logger, desc: desc, rule: cfg.Rule}
	for i := range sim.grids {
		if sim.grids[i], err = memory.NewDeviceBuffer(s, desc.Cells(), 1, memory.WithLogger(cfg.Logger)); err != nil {
			_ = sim.Close()
			return nil, err
		}
		s.Memset(sim.grids[i], 0)
	}
	if sim.host, err = memory.NewHostBuffer(s, desc.Cells(), 1, memory.WithLogger(cfg.Logger)); err != nil {
		_ = sim.Close()
		return nil, err
	}
	sim.log.Debug("life grid ready",
		"cells", cfg.Cells.String(),
		"supercells", desc.GridSuperCells().String(),
		"rule", cfg.Rule.String(),
	)
	return sim, nil
}

func (sim *Simulation) Description() mapping.Description {
	return sim.desc
}

func (sim *Simulation) Steps() int {
	return sim.steps
}

// Randomize sets each cell alive with probability fraction. The pattern
// only depends on seed.
func (sim *Simulation) Randomize(seed uint64, fraction float32) sched.Task {
	m := sim.desc.Area(mapping.Core | mapping.Border)
	return sim.s.KernelTask(randomKernel, m,
		[]any{sim.grids[sim.cur].Span(), m, seed, fraction},
		sched.WithDescription("random init"))
}

// Load replaces the domain with alive, indexed [y][x].
func (sim *Simulation) Load(alive [][]bool) sched.Task {
	sim.host.Reset(false)
	g := sim.guard()
	for y, row := range alive {
		for x, v := range row {
			if v {
				sim.host.Element(layout.S(int64(x)+g[0], int64(y)+g[1]))[0] = 1
			}
		}
	}
	return sim.grids[sim.cur].CopyFromHost(sim.host)
}

// Step advances one generation: refresh the periodic guard, then evolve
// the border and the core into the other grid.
func (sim *Simulation) Step() sched.Task {
	read, write := sim.grids[sim.cur], sim.grids[1-sim.cur]
	sim.s.StartTransaction(nil)
	guard := sim.desc.Area(mapping.Guard)
	sim.s.Kernel(guardKernel, guard, read.Span(), guard)
	for _, area := range []mapping.Area{mapping.Border, mapping.Core} {
		m := sim.desc.Area(area)
		sim.s.KernelTask(evolveKernel, m,
			[]any{read.Span(), write.Span(), m, sim.rule},
			sched.WithDescription("evolve "+area.String()))
	}
	done := sim.s.EndTransaction()
	sim.cur = 1 - sim.cur
	sim.steps++
	return done
}

// Snapshot reads the domain back, indexed [y][x].
func (sim *Simulation) Snapshot() [][]bool {
	sim.host.CopyFromDevice(sim.grids[sim.cur]).WaitForFinished()
	g, n := sim.guard(), sim.cells()
	out := make([][]bool, n[1])
	for y := range out {
		out[y] = make([]bool, n[0])
		for x := range out[y] {
			out[y][x] = sim.host.Element(layout.S(int64(x)+g[0], int64(y)+g[1]))[0] != 0
		}
	}
	return out
}

// Alive counts live cells in a snapshot.
func Alive(grid [][]bool) int {
	n := 0
	for _, row := range grid {
		for _, v := range row {
			if v {
				n++
			}
		}
	}
	return n
}

func (sim *Simulation) Close() error {
	var first error
	for _, g := range sim.grids {
		if g == nil {
			continue
		}
		if err := g.Close(); err != nil && first == nil {
			first = err
		}
	}
	if sim.host != nil {
		if err := sim.host.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// guard returns the guard width in cells.
func (sim *Simulation) guard() layout.Space {
	g := sim.desc.GuardSuperCells()
	sc := sim.desc.SuperCell()
	return layout.S(g[0]*sc[0], g[1]*sc[1])
}

func (sim *Simulation) cells() layout.Space {
	all, g := sim.desc.Cells(), sim.guard()
	return layout.S(all[0]-2*g[0], all[1]-2*g[1])
}

// Kernels. Each block handles one supercell with one thread per cell.

var randomKernel = &accel.Kernel{Name: "life_random", Func: func(b accel.Block) {
	dst := b.Args[0].(accel.Span)
	m := b.Args[1].(mapping.AreaMapping)
	seed, fraction := b.Args[2].(uint64), b.Args[3].(float32)
	width := m.Description().Cells()[0]
	buf := dst.Bytes()
	origin := m.CellOffset(b.Idx)
	b.Threads(func(t accel.Dim3) {
		x, y := origin[0]+t.X, origin[1]+t.Y
		rng := rand.New(rand.NewPCG(seed, uint64(y*width+x)))
		var v byte
		if rng.Float32() < fraction {
			v = 1
		}
		buf[dst.Layout.Offset(layout.S(x, y))] = v
	})
}}

var guardKernel = &accel.Kernel{Name: "life_guard", Func: func(b accel.Block) {
	grid := b.Args[0].(accel.Span)
	m := b.Args[1].(mapping.AreaMapping)
	desc := m.Description()
	all, sc, gs := desc.Cells(), desc.SuperCell(), desc.GuardSuperCells()
	gx, gy := gs[0]*sc[0], gs[1]*sc[1]
	nx, ny := all[0]-2*gx, all[1]-2*gy
	buf := grid.Bytes()
	origin := m.CellOffset(b.Idx)
	b.Threads(func(t accel.Dim3) {
		x, y := origin[0]+t.X, origin[1]+t.Y
		sx := ((x-gx)%nx+nx)%nx + gx
		sy := ((y-gy)%ny+ny)%ny + gy
		buf[grid.Layout.Offset(layout.S(x, y))] = buf[grid.Layout.Offset(layout.S(sx, sy))]
	})
}}

var evolveKernel = &accel.Kernel{Name: "life_evolve", Func: func(b accel.Block) {
	read, write := b.Args[0].(accel.Span), b.Args[1].(accel.Span)
	m := b.Args[2].(mapping.AreaMapping)
	rule := b.Args[3].(Rule)
	in, out := read.Bytes(), write.Bytes()
	origin := m.CellOffset(b.Idx)
	b.Threads(func(t accel.Dim3) {
		x, y := origin[0]+t.X, origin[1]+t.Y
		n := 0
		for dy := int64(-1); dy <= 1; dy++ {
			for dx := int64(-1); dx <= 1; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}
				n += int(in[read.Layout.Offset(layout.S(x+dx, y+dy))])
			}
		}
		alive := in[read.Layout.Offset(layout.S(x, y))] != 0
		var v byte
		if rule.Next(alive, n) {
			v = 1
		}
		out[write.Layout.Offset(layout.S(x, y))] = v
	})
}}
