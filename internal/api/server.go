// Package api serves scheduler diagnostics over HTTP.
package api

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/accelq/internal/bench"
	"github.com/samcharles93/accelq/internal/environment"
	"github.com/samcharles93/accelq/internal/logger"
	"github.com/samcharles93/accelq/internal/version"
)

// MaxBenchElements bounds the buffers a bench request may allocate.
const MaxBenchElements = 1 << 26

type Server struct {
	env       *environment.Environment
	log       logger.Logger
	started   time.Time
	heartbeat time.Duration

	// benchMu admits one bench run at a time.
	benchMu sync.Mutex
}

type Option func(*Server)

// WithHeartbeat sets the interval of keep-alive comments on event streams.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) { s.heartbeat = d }
}

func NewServer(env *environment.Environment, opts ...Option) *Server {
	s := &Server{
		env:       env,
		log:       env.Logger().With("component", "api"),
		started:   time.Now(),
		heartbeat: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/device", s.handleDevice)
	e.GET("/v1/tasks", s.handleTasks)
	e.GET("/v1/events", s.handleEvents)
	e.POST("/v1/bench", s.handleBench)
}

type HealthResponse struct {
	Status  string       `json:"status"`
	Version version.Info `json:"version"`
	Uptime  string       `json:"uptime"`
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: version.Resolve(),
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	})
}

type DeviceResponse struct {
	Environment string `json:"environment"`
	Driver      string `json:"driver"`
	Index       int    `json:"index"`
	Name        string `json:"name"`
	TotalMemory int64  `json:"total_memory"`
	MemoryHuman string `json:"total_memory_human"`
	HostWorkers int    `json:"host_workers"`
	Streams     int    `json:"streams"`
	SyncKernels bool   `json:"sync_kernels"`
}

func (s *Server) handleDevice(c *echo.Context) error {
	dev := s.env.Device()
	cfg := s.env.Scheduler().Config()
	return c.JSON(http.StatusOK, DeviceResponse{
		Environment: s.env.ID().String(),
		Driver:      s.env.Registry().Driver().Name(),
		Index:       dev.Index(),
		Name:        dev.Name(),
		TotalMemory: dev.TotalMemory(),
		MemoryHuman: humanize.IBytes(uint64(dev.TotalMemory())),
		HostWorkers: s.env.Host().Workers,
		Streams:     cfg.Streams,
		SyncKernels: cfg.SyncKernels,
	})
}

func (s *Server) handleTasks(c *echo.Context) error {
	m := s.env.Scheduler().Manager()
	m.Poll()
	return c.JSON(http.StatusOK, m.Stats())
}

func (s *Server) handleBench(c *echo.Context) error {
	cfg, err := decodeJSON[bench.Config](c.Request().Body)
	if err != nil && !errors.Is(err, io.EOF) {
		return writeBadRequest(c, err.Error())
	}
	if err := validateBench(cfg); err != nil {
		return writeBadRequest(c, err.Error())
	}
	if !s.benchMu.TryLock() {
		return writeError(c, http.StatusConflict, "conflict_error", "a bench run is already in progress")
	}
	defer s.benchMu.Unlock()

	res, err := bench.Run(c.Request().Context(), s.env, cfg)
	if err != nil {
		s.log.Error("bench failed", "run", res.RunID.String(), "error", err)
		return writeError(c, http.StatusInternalServerError, "bench_error", err.Error())
	}
	return c.JSON(http.StatusOK, BenchResponse{Result: res, Throughput: humanize.IBytes(uint64(res.Throughput())) + "/s"})
}

type BenchResponse struct {
	bench.Result
	Throughput string `json:"throughput"`
}

func validateBench(cfg bench.Config) error {
	if cfg.Extent == nil {
		return nil
	}
	if err := cfg.Extent.Validate(); err != nil {
		return newInvalidRequest(err.Error())
	}
	if cfg.Extent.Product() > MaxBenchElements {
		return newInvalidRequest("extent exceeds the bench element limit")
	}
	return nil
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
