// Package config handles environment variable loading for toolchain binaries,
// timeouts and working directories.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values for the execution core.
type Config struct {
	// Compiler is the native compiler binary invoked for native-compiled jobs.
	Compiler string

	// CompilerFlags are passed to the compiler before the source file.
	CompilerFlags []string

	// Interpreter is the runtime binary invoked for interpreted-script jobs.
	Interpreter string

	// InterpreterArgs are passed to the interpreter before the script.
	InterpreterArgs []string

	// Runner selects the process invoker: "local" or "docker".
	Runner string

	// DockerImage is the toolchain image used when Runner is "docker".
	DockerImage string

	// Timeout bounds a single job's execute step.
	Timeout time.Duration

	// OutputLimit caps captured job output, in bytes.
	OutputLimit int

	// WorkRoot is where per-job working directories are created when the
	// caller does not assign them explicitly.
	WorkRoot string

	// OTELEndpoint is the OTLP collector address; empty disables tracing.
	OTELEndpoint string
}

// Load reads configuration from JOBFORGE_* environment variables, filling in
// defaults for anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		Compiler:    envOr("JOBFORGE_COMPILER", "cc"),
		Interpreter: envOr("JOBFORGE_INTERPRETER", "python3"),
		Runner:      envOr("JOBFORGE_RUNNER", "local"),
		DockerImage: envOr("JOBFORGE_DOCKER_IMAGE", "gcc:14-bookworm"),
		Timeout:     30 * time.Second,
		OutputLimit: 1 << 20,
		WorkRoot:    filepath.Join(os.TempDir(), "jobforge"),
	}

	if flags := os.Getenv("JOBFORGE_COMPILER_FLAGS"); flags != "" {
		cfg.CompilerFlags = strings.Fields(flags)
	}
	if args := os.Getenv("JOBFORGE_INTERPRETER_ARGS"); args != "" {
		cfg.InterpreterArgs = strings.Fields(args)
	}

	if cfg.Runner != "local" && cfg.Runner != "docker" {
		return nil, fmt.Errorf("invalid JOBFORGE_RUNNER %q: must be local or docker", cfg.Runner)
	}

	if timeoutStr := os.Getenv("JOBFORGE_TIMEOUT"); timeoutStr != "" {
		d, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return nil, fmt.Errorf("invalid JOBFORGE_TIMEOUT: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("JOBFORGE_TIMEOUT must be positive")
		}
		cfg.Timeout = d
	}

	if limitStr := os.Getenv("JOBFORGE_OUTPUT_LIMIT"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid JOBFORGE_OUTPUT_LIMIT %q", limitStr)
		}
		cfg.OutputLimit = n
	}

	if root := os.Getenv("JOBFORGE_WORK_ROOT"); root != "" {
		cfg.WorkRoot = root
	}

	cfg.OTELEndpoint = os.Getenv("JOBFORGE_OTEL_ENDPOINT")

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
