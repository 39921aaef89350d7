package main

import (
	"context"
	"io"
	"os"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/accelq/internal/accel"
	"github.com/samcharles93/accelq/internal/accel/cuda"
	"github.com/samcharles93/accelq/internal/accel/sim"
	"github.com/samcharles93/accelq/internal/device"
	"github.com/samcharles93/accelq/internal/environment"
	"github.com/samcharles93/accelq/internal/logger"
	"github.com/samcharles93/accelq/internal/sched"
)

// setup loads the config file, applies it under the command-line flags and
// installs the logger in the returned context.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, Config, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return ctx, cfg, err
	}
	if err := applyConfig(cmd, cfg); err != nil {
		return ctx, cfg, err
	}
	level := logLevel
	if debug {
		level = "debug"
	}
	log := logger.Setup(os.Stderr, logFormat, level)
	return logger.WithContext(ctx, log), cfg, nil
}

func newDriver() (accel.Driver, error) {
	switch driverName {
	case "sim":
		return newSimDriver(), nil
	case "cuda":
		return cuda.New()
	case "", "auto":
		if cuda.Available {
			return cuda.New()
		}
		return newSimDriver(), nil
	default:
		return nil, errors.Errorf("unknown driver %q (expected auto, sim or cuda)", driverName)
	}
}

func newSimDriver() *sim.Driver {
	if len(simSpecs) > 0 {
		return sim.New(sim.Config{Devices: simSpecs})
	}
	return sim.Default(int(max(simDevices, 1)))
}

// openEnvironment selects a device and starts its scheduler from the flag
// variables.
func openEnvironment(ctx context.Context) (*environment.Environment, error) {
	log := logger.FromContext(ctx)
	policy, err := device.ParseFaultPolicy(faultPolicy)
	if err != nil {
		return nil, err
	}
	drv, err := newDriver()
	if err != nil {
		return nil, err
	}
	return environment.New(drv, environment.Config{
		Device:      int(deviceIndex),
		FaultPolicy: policy,
		Scheduler: sched.Config{
			Streams:     int(streams),
			SyncKernels: syncKernels,
			WarnAfter:   warnAfter,
		},
		Logger: log,
	})
}

// guarded converts panics raised by the scheduler into command errors.
func guarded(action cli.ActionFunc) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		var err error
		exception := exceptions.Try(func() { err = action(ctx, cmd) })
		if exception == nil {
			return err
		}
		if e, ok := exception.(error); ok {
			var fatal *sched.FatalError
			if errors.As(e, &fatal) {
				return errors.Wrap(e, "device failure")
			}
			return errors.Wrap(e, "internal error")
		}
		return errors.Errorf("internal error: %v", exception)
	}
}

// stdout is where command output goes.
func stdout(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}
