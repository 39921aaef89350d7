package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/accelq/internal/layout"
	"github.com/samcharles93/accelq/internal/life"
	"github.com/samcharles93/accelq/internal/logger"
)

func lifeCmd() *cli.Command {
	var (
		width, height int64
		superCell     int64
		steps         int64
		every         int64
		seed          uint64
		density       float64
		rule          string
		show          bool
	)

	return &cli.Command{
		Name:  "life",
		Usage: "Run a Game of Life simulation on the device",
		Flags: environmentFlags(
			&cli.Int64Flag{Name: "width", Usage: "cells per row", Value: 256, Destination: &width},
			&cli.Int64Flag{Name: "height", Usage: "rows", Value: 256, Destination: &height},
			&cli.Int64Flag{Name: "supercell", Usage: "supercell edge in cells", Value: 16, Destination: &superCell},
			&cli.Int64Flag{Name: "steps", Aliases: []string{"n"}, Usage: "generations to run", Value: 100, Destination: &steps},
			&cli.Int64Flag{Name: "every", Usage: "report the population every N generations (0 disables)", Value: 10, Destination: &every},
			&cli.Uint64Flag{Name: "seed", Usage: "random seed", Value: 42, Destination: &seed},
			&cli.Float64Flag{Name: "density", Usage: "initial fraction of live cells", Value: 0.25, Destination: &density},
			&cli.StringFlag{Name: "rule", Usage: "rule in S/B notation", Value: "23/3", Destination: &rule},
			&cli.BoolFlag{Name: "show", Usage: "print the final grid", Destination: &show},
		),
		Action: guarded(func(ctx context.Context, cmd *cli.Command) error {
			ctx, _, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			log := logger.FromContext(ctx)
			r, err := life.ParseRule(rule)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			env, err := openEnvironment(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() { _ = env.Close() }()

			sim, err := life.New(env.Scheduler(), life.Config{
				Cells:     layout.S(width, height),
				SuperCell: layout.S(superCell, superCell),
				Rule:      r,
				Logger:    log,
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() { _ = sim.Close() }()

			w := stdout(cmd)
			sim.Randomize(seed, float32(density))
			_, _ = fmt.Fprintf(w, "generation %d: %d alive\n", 0, life.Alive(sim.Snapshot()))
			start := time.Now()
			for i := int64(1); i <= steps; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				sim.Step()
				if every > 0 && i%every == 0 {
					_, _ = fmt.Fprintf(w, "generation %d: %d alive\n", i, life.Alive(sim.Snapshot()))
				}
			}
			final := sim.Snapshot()
			elapsed := time.Since(start)
			log.Info("life finished", "steps", steps, "elapsed", elapsed, "rule", r.String())
			_, _ = fmt.Fprintf(w, "%d generations in %s, %d alive\n", steps, elapsed.Round(time.Millisecond), life.Alive(final))
			if show {
				render(w, final)
			}
			return nil
		}),
	}
}

func render(w io.Writer, grid [][]bool) {
	var b strings.Builder
	for _, row := range grid {
		for _, alive := range row {
			if alive {
				b.WriteByte('#')
			} else {
				b.WriteByte('.')
			}
		}
		b.WriteByte('\n')
	}
	_, _ = io.WriteString(w, b.String())
}
