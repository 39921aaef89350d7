package main

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/accelq/internal/bench"
	"github.com/samcharles93/accelq/internal/layout"
)

func benchCmd() *cli.Command {
	var (
		extent     []int64
		iterations int64
		runs       int64
		linear     bool
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Run the copy and fill pipeline and report throughput",
		Flags: environmentFlags(
			&cli.Int64SliceFlag{
				Name:        "extent",
				Usage:       "buffer extent in uint32 elements, fastest dimension first",
				Value:       []int64(bench.DefaultExtent),
				Destination: &extent,
			},
			&cli.Int64Flag{
				Name:        "iterations",
				Aliases:     []string{"n"},
				Usage:       "pipeline rounds per run",
				Value:       bench.DefaultIterations,
				Destination: &iterations,
			},
			&cli.Int64Flag{
				Name:        "runs",
				Usage:       "number of benchmark runs",
				Value:       3,
				Destination: &runs,
			},
			&cli.BoolFlag{
				Name:        "linear",
				Usage:       "allocate device buffers without row padding",
				Destination: &linear,
			},
		),
		Action: guarded(func(ctx context.Context, cmd *cli.Command) error {
			ctx, _, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			env, err := openEnvironment(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() { _ = env.Close() }()

			cfg := bench.Config{Extent: layout.S(extent...), Iterations: int(iterations), LinearBase: linear}
			dev := env.Device()
			w := stdout(cmd)
			_, _ = fmt.Fprintln(w, "=== accelq bench ===")
			_, _ = fmt.Fprintf(w, "Device:     %s (%s)\n", dev.Name(), humanize.IBytes(uint64(dev.TotalMemory())))
			_, _ = fmt.Fprintf(w, "Extent:     %s x uint32\n", cfg.Extent)
			_, _ = fmt.Fprintf(w, "Iterations: %d\n", iterations)
			_, _ = fmt.Fprintf(w, "Streams:    %d\n", env.Scheduler().Config().Streams)
			_, _ = fmt.Fprintf(w, "GOMAXPROCS: %d\n\n", runtime.GOMAXPROCS(0))

			_, _ = fmt.Fprintf(w, "%-6s %12s %12s %14s %8s\n", "Run", "Moved", "Elapsed", "Throughput", "Tasks")
			var sum float64
			for i := range int(max(runs, 1)) {
				res, err := bench.Run(ctx, env, cfg)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: run %d: %v", i+1, err), 1)
				}
				sum += res.Throughput()
				_, _ = fmt.Fprintf(w, "%-6d %12s %12s %12s/s %8d\n", i+1,
					humanize.IBytes(uint64(res.Bytes)), res.Elapsed.Round(time.Microsecond),
					humanize.IBytes(uint64(res.Throughput())), res.Tasks)
			}
			_, _ = fmt.Fprintf(w, "\nAvg %s/s\n", humanize.IBytes(uint64(sum/float64(max(runs, 1)))))
			return nil
		}),
	}
}
