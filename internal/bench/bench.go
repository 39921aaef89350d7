// Package bench drives a copy and fill pipeline through the scheduler and
// verifies the result on the host.
package bench

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/samcharles93/accelq/internal/environment"
	"github.com/samcharles93/accelq/internal/layout"
	"github.com/samcharles93/accelq/internal/memory"
)

var DefaultExtent = layout.S(1024, 1024)

const DefaultIterations = 4

type Config struct {
	// Extent of the uint32 buffers; rank 2 buffers are pitched on the device.
	Extent     layout.Space `json:"extent,omitempty"`
	Iterations int          `json:"iterations,omitempty"`
	// LinearBase allocates device buffers without row padding.
	LinearBase bool `json:"linear_base,omitempty"`
}

func (c Config) withDefaults() Config {
	if c.Extent == nil {
		c.Extent = DefaultExtent
	}
	if c.Iterations <= 0 {
		c.Iterations = DefaultIterations
	}
	return c
}

type Result struct {
	RunID      uuid.UUID     `json:"run_id"`
	Extent     layout.Space  `json:"extent"`
	Iterations int           `json:"iterations"`
	Bytes      int64         `json:"bytes"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	Tasks      int64         `json:"tasks"`
	Verified   bool          `json:"verified"`
}

// Throughput returns bytes moved per second.
func (r Result) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Bytes) / r.Elapsed.Seconds()
}

func (r Result) String() string {
	return fmt.Sprintf("%s in %s (%s/s, %d tasks)",
		humanize.IBytes(uint64(r.Bytes)), r.Elapsed.Round(time.Microsecond),
		humanize.IBytes(uint64(r.Throughput())), r.Tasks)
}

// Run executes cfg.Iterations rounds of host fill, host to device copy,
// device to device copy, readback, device fill and readback. Every readback
// is checked element by element.
func Run(ctx context.Context, env *environment.Environment, cfg Config) (Result, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Extent.Validate(); err != nil {
		return Result{}, errors.Wrap(err, "bench")
	}
	res := Result{RunID: uuid.New(), Extent: cfg.Extent.Clone(), Iterations: cfg.Iterations}
	log := env.Logger().With("run", res.RunID.String())

	var devOpts []memory.Option
	if cfg.LinearBase {
		devOpts = append(devOpts, memory.WithLinearBase())
	}
	in, err := env.NewHostBuffer(cfg.Extent, 4)
	if err != nil {
		return res, err
	}
	defer func() { _ = in.Close() }()
	out, err := env.NewHostBuffer(cfg.Extent, 4)
	if err != nil {
		return res, err
	}
	defer func() { _ = out.Close() }()
	a, err := env.NewDeviceBuffer(cfg.Extent, 4, devOpts...)
	if err != nil {
		return res, err
	}
	defer func() { _ = a.Close() }()
	b, err := env.NewDeviceBuffer(cfg.Extent, 4, devOpts...)
	if err != nil {
		return res, err
	}
	defer func() { _ = b.Close() }()

	s := env.Scheduler()
	before := total(s.Manager().Stats().Issued)
	payload := cfg.Extent.Product() * 4
	start := time.Now()
	for i := range cfg.Iterations {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		v := uint32(0x9e3779b9) * uint32(i+1)
		in.SetValue(memory.ValueBytes(v))
		a.CopyFromHost(in)
		b.CopyFromDevice(a)
		out.CopyFromDevice(b).WaitForFinished()
		if err := verify(out, v); err != nil {
			return res, errors.Wrapf(err, "bench: iteration %d copy", i)
		}

		b.SetValue(memory.ValueBytes(^v))
		out.CopyFromDevice(b).WaitForFinished()
		if err := verify(out, ^v); err != nil {
			return res, errors.Wrapf(err, "bench: iteration %d fill", i)
		}
		res.Bytes += 4 * payload
		log.Debug("bench iteration done", "iteration", i, "elapsed", time.Since(start))
	}
	res.Elapsed = time.Since(start)
	res.Tasks = total(s.Manager().Stats().Issued) - before
	res.Verified = true
	log.Info("bench finished",
		"extent", cfg.Extent.String(),
		"moved", humanize.IBytes(uint64(res.Bytes)),
		"throughput", humanize.IBytes(uint64(res.Throughput()))+"/s",
	)
	return res, nil
}

func verify(out *memory.HostBuffer, want uint32) error {
	for i, got := range memory.Elements[uint32](out) {
		if got != want {
			return errors.Errorf("element %d is %#x, want %#x", i, got, want)
		}
	}
	return nil
}

func total(counts map[string]int64) int64 {
	var n int64
	for _, c := range counts {
		n += c
	}
	return n
}
