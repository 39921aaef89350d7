package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/accelq/internal/api"
	"github.com/samcharles93/accelq/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr         string
		readTimeout  time.Duration
		pollInterval time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the diagnostics API",
		Flags: environmentFlags(
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.DurationFlag{
				Name:        "poll-interval",
				Usage:       "how often outstanding tasks are polled",
				Value:       10 * time.Millisecond,
				Destination: &pollInterval,
			},
		),
		Action: guarded(func(ctx context.Context, cmd *cli.Command) error {
			ctx, cfg, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			applyServeConfig(cmd, cfg, &addr)
			log := logger.FromContext(ctx)

			env, err := openEnvironment(ctx)
			if err != nil {
				return cli.Exit("error: "+err.Error(), 1)
			}
			defer func() { _ = env.Close() }()

			// Completions of tasks nobody waits on are observed here.
			go func() {
				if err := env.Scheduler().Manager().Run(ctx, pollInterval); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("task poller stopped", "error", err)
				}
			}()

			server := api.NewServer(env)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "device", env.Device().Name())
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		}),
	}
}
