// Package config resolves the runtime configuration of a simulation run from
// the models directory argument, the home directory and SIM_* environment
// variables. An optional .env file in the runtime directory supplies
// defaults for variables not already set.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/signalsfoundry/interop-sim/internal/logging"
	"github.com/signalsfoundry/interop-sim/internal/observability"
	"github.com/signalsfoundry/interop-sim/model"
)

// RuntimeDirName is created under $HOME and owned by the network core.
const RuntimeDirName = ".blast"

var (
	// ErrHomeNotSet is returned when HOME is missing or empty.
	ErrHomeNotSet = errors.New("HOME environment variable not set")
	// ErrNoModelsDir is returned when no models directory was given.
	ErrNoModelsDir = errors.New("models directory not specified")
)

// Config is everything a run needs besides the scenario itself.
type Config struct {
	ModelsDir    string
	RuntimeDir   string
	ScenarioFile string // SIM_SCENARIO_FILE; overrides the binary's preset
	MetricsAddr  string // SIM_METRICS_ADDR; empty disables /metrics

	Log     logging.Config
	Tracing observability.TracingConfig

	ProbeModels  bool          // SIM_PROBE_MODELS
	ProbeTimeout time.Duration // SIM_PROBE_TIMEOUT
	BaseRPCPort  int           // SIM_BASE_RPC_PORT
	Tick         time.Duration // SIM_TICK
	Accelerated  bool          // SIM_ACCELERATED
	Seed         int           // SIM_SEED
}

// Load resolves configuration for modelsDir. It creates the runtime
// directory if needed.
func Load(modelsDir string) (Config, error) {
	home := os.Getenv("HOME")
	if home == "" {
		return Config{}, ErrHomeNotSet
	}
	if modelsDir == "" {
		return Config{}, ErrNoModelsDir
	}
	abs, err := filepath.Abs(modelsDir)
	if err != nil {
		return Config{}, fmt.Errorf("models directory: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Config{}, fmt.Errorf("models directory: %w", err)
	}
	if !info.IsDir() {
		return Config{}, fmt.Errorf("models directory %s is not a directory", abs)
	}

	runtimeDir := filepath.Join(home, RuntimeDirName)
	if err := os.MkdirAll(runtimeDir, 0o755); err != nil {
		return Config{}, fmt.Errorf("create runtime dir: %w", err)
	}

	envFile := filepath.Join(runtimeDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("stat %s: %w", envFile, err)
	}

	cfg := Config{
		ModelsDir:    abs,
		RuntimeDir:   runtimeDir,
		ScenarioFile: envString("SIM_SCENARIO_FILE", ""),
		MetricsAddr:  envString("SIM_METRICS_ADDR", ""),
		Log: logging.Config{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "text"),
		},
		Tracing: observability.TracingConfigFromEnv(),
	}

	if cfg.ProbeModels, err = envBool("SIM_PROBE_MODELS", false); err != nil {
		return Config{}, err
	}
	if cfg.ProbeTimeout, err = envDuration("SIM_PROBE_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.BaseRPCPort, err = envInt("SIM_BASE_RPC_PORT", 10_000); err != nil {
		return Config{}, err
	}
	if cfg.Tick, err = envDuration("SIM_TICK", 100*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.Accelerated, err = envBool("SIM_ACCELERATED", false); err != nil {
		return Config{}, err
	}
	if cfg.Seed, err = envInt("SIM_SEED", 0); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	// Each model kind takes one port from the base upward.
	if c.BaseRPCPort <= 0 || c.BaseRPCPort+len(model.Kinds()) > 65536 {
		return fmt.Errorf("SIM_BASE_RPC_PORT %d out of range", c.BaseRPCPort)
	}
	if c.Tick <= 0 {
		return fmt.Errorf("SIM_TICK must be positive, got %s", c.Tick)
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("SIM_PROBE_TIMEOUT must be positive, got %s", c.ProbeTimeout)
	}
	return nil
}
