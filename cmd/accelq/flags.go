package main

import (
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/accelq/internal/sched"
)

var (
	configFile  string
	driverName  string
	deviceIndex int64
	simDevices  int64
	streams     int64
	syncKernels bool
	warnAfter   time.Duration
	faultPolicy string
	logLevel    string
	logFormat   string
	debug       bool
)

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to the config file",
			Value:       configPath(),
			Destination: &configFile,
		},
	}
}

func deviceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "driver",
			Usage:       "accelerator driver (auto, sim, cuda)",
			Value:       "auto",
			Destination: &driverName,
		},
		&cli.Int64Flag{
			Name:        "device",
			Aliases:     []string{"d"},
			Usage:       "preferred device index",
			Destination: &deviceIndex,
		},
		&cli.Int64Flag{
			Name:        "sim-devices",
			Usage:       "number of simulated devices",
			Value:       1,
			Destination: &simDevices,
		},
		&cli.StringFlag{
			Name:        "fault-policy",
			Usage:       "reaction to a device that fails to open (fail-fast, skip)",
			Value:       "fail-fast",
			Destination: &faultPolicy,
		},
	}
}

func schedulerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "streams",
			Usage:       "streams per device",
			Value:       sched.DefaultStreams,
			Destination: &streams,
		},
		&cli.BoolFlag{
			Name:        "sync-kernels",
			Usage:       "synchronize the device around every kernel launch",
			Destination: &syncKernels,
		},
		&cli.DurationFlag{
			Name:        "warn-after",
			Usage:       "warn about tasks pending longer than this (negative disables)",
			Value:       sched.DefaultWarnAfter,
			Destination: &warnAfter,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// environmentFlags are the flags of every command that opens a device.
func environmentFlags(extra ...cli.Flag) []cli.Flag {
	flags := append([]cli.Flag{}, configFlags()...)
	flags = append(flags, deviceFlags()...)
	flags = append(flags, schedulerFlags()...)
	flags = append(flags, loggingFlags()...)
	return append(flags, extra...)
}
