package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/accelq/internal/accel"
	"github.com/samcharles93/accelq/internal/logger"
)

func devicesCmd() *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "List the devices of the selected driver",
		Flags: environmentFlags(),
		Action: guarded(func(ctx context.Context, cmd *cli.Command) error {
			ctx, _, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			log := logger.FromContext(ctx)
			drv, err := newDriver()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			n, err := drv.DeviceCount()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: count devices: %v", err), 1)
			}
			w := stdout(cmd)
			_, _ = fmt.Fprintf(w, "driver: %s (%d devices)\n", drv.Name(), n)
			_, _ = fmt.Fprintf(w, "%-6s %-24s %10s %s\n", "Index", "Name", "Memory", "Status")
			for i := range n {
				dev, err := drv.Open(i)
				switch {
				case errors.Is(err, accel.ErrDeviceBusy):
					_, _ = fmt.Fprintf(w, "%-6d %-24s %10s %s\n", i, "-", "-", "busy")
				case err != nil:
					log.Debug("device probe failed", "device", i, "error", err)
					_, _ = fmt.Fprintf(w, "%-6d %-24s %10s %s\n", i, "-", "-", "error: "+err.Error())
				default:
					_, _ = fmt.Fprintf(w, "%-6d %-24s %10s %s\n", i, dev.Name(), humanize.IBytes(uint64(dev.TotalMemory())), "available")
					_ = dev.Close()
				}
			}
			return nil
		}),
	}
}
