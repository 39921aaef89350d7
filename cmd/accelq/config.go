package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/accelq/internal/accel/sim"
)

// Config represents the accelq configuration file (~/.config/accelq/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	// Device selection
	Driver      string           `yaml:"driver"`
	Device      *int64           `yaml:"device"`
	FaultPolicy string           `yaml:"fault_policy"`
	SimDevices  []sim.DeviceSpec `yaml:"sim_devices"`

	// Scheduler
	Streams     *int64 `yaml:"streams"`
	SyncKernels *bool  `yaml:"sync_kernels"`
	WarnAfter   string `yaml:"warn_after"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

// simSpecs is the simulated device list from the config file.
var simSpecs []sim.DeviceSpec

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "accelq", "config.yaml")
}

// LoadConfig reads the config file. A missing file yields a zero Config.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, pkgerrors.Wrap(err, "read config")
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, pkgerrors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// applyConfig applies config file defaults to the shared flag variables
// when the corresponding CLI flag was not explicitly set.
func applyConfig(c *cli.Command, cfg Config) error {
	if cfg.Driver != "" && !c.IsSet("driver") {
		driverName = cfg.Driver
	}
	if cfg.Device != nil && !c.IsSet("device") {
		deviceIndex = *cfg.Device
	}
	if cfg.FaultPolicy != "" && !c.IsSet("fault-policy") {
		faultPolicy = cfg.FaultPolicy
	}
	if len(cfg.SimDevices) > 0 && !c.IsSet("sim-devices") {
		simSpecs = cfg.SimDevices
	}
	if cfg.Streams != nil && !c.IsSet("streams") {
		streams = *cfg.Streams
	}
	if cfg.SyncKernels != nil && !c.IsSet("sync-kernels") {
		syncKernels = *cfg.SyncKernels
	}
	if cfg.WarnAfter != "" && !c.IsSet("warn-after") {
		d, err := time.ParseDuration(cfg.WarnAfter)
		if err != nil {
			return pkgerrors.Wrap(err, "config warn_after")
		}
		warnAfter = d
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
	return nil
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
