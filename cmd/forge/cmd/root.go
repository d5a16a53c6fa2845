package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"jobforge/internal/config"
	"jobforge/internal/toolchain"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "Forge runs heterogeneous jobs and validates their artifacts",
	Long: `forge is the command-line interface for the jobforge execution core.

A job is a single source file plus an expectation of the artifacts it must
produce. Forge stages the source into a fresh working directory, prepares it
with the right toolchain (compile for native jobs, interpreter lookup for
scripts), executes it under a timeout, and then structurally validates every
declared artifact. The result is exactly one verdict per job.

Common workflows:

  Run one native job and validate its captured console output (the core
  writes the job's stdout/stderr to stdout.log inside the working
  directory):
    forge run showsize.c --kind native-compiled --artifact text-log:stdout.log

  Run a script that must produce a plot and a data file:
    forge run hist.py --kind interpreted-script \
      --artifact binary-document:hist.pdf \
      --artifact structured-data-file:tree.csv:100

  Run a whole manifest of jobs with bounded concurrency:
    forge batch jobs.yaml --concurrency 4

  Re-validate artifacts in a finished working directory:
    forge inspect /tmp/jobforge/<id> --artifact text-log:stdout.log

Configuration:
  Toolchain binaries and runner selection come from environment variables or
  a config file:
    JOBFORGE_COMPILER      Native compiler binary (default: cc)
    JOBFORGE_INTERPRETER   Script interpreter binary (default: python3)
    JOBFORGE_RUNNER        Process runner, local or docker (default: local)
    JOBFORGE_DOCKER_IMAGE  Toolchain image for the docker runner
    JOBFORGE_TIMEOUT       Per-job execute timeout (default: 30s)`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".forge"
		viper.AddConfigPath(home)
		viper.SetConfigName(".forge")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "JOBFORGE_VARNAME"
	viper.SetEnvPrefix("JOBFORGE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.forge.yaml)")

	rootCmd.PersistentFlags().String("runner", "", "process runner: local or docker")
	viper.BindPFlag("runner", rootCmd.PersistentFlags().Lookup("runner"))

	rootCmd.PersistentFlags().String("image", "", "toolchain image for the docker runner")
	viper.BindPFlag("image", rootCmd.PersistentFlags().Lookup("image"))

	rootCmd.PersistentFlags().String("compiler", "", "native compiler binary")
	viper.BindPFlag("compiler", rootCmd.PersistentFlags().Lookup("compiler"))

	rootCmd.PersistentFlags().String("interpreter", "", "script interpreter binary")
	viper.BindPFlag("interpreter", rootCmd.PersistentFlags().Lookup("interpreter"))

	rootCmd.PersistentFlags().Duration("timeout", 0, "per-job execute timeout")
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))

	rootCmd.PersistentFlags().String("work-root", "", "root directory for per-job working directories")
	viper.BindPFlag("work_root", rootCmd.PersistentFlags().Lookup("work-root"))
}

// loadConfig builds the effective configuration: environment defaults first,
// then anything the user set via flags or the config file on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if v := viper.GetString("runner"); v != "" {
		cfg.Runner = v
	}
	if v := viper.GetString("image"); v != "" {
		cfg.DockerImage = v
	}
	if v := viper.GetString("compiler"); v != "" {
		cfg.Compiler = v
	}
	if v := viper.GetString("interpreter"); v != "" {
		cfg.Interpreter = v
	}
	if v := viper.GetDuration("timeout"); v > 0 {
		cfg.Timeout = v
	}
	if v := viper.GetString("work_root"); v != "" {
		cfg.WorkRoot = v
	}

	if cfg.Runner != "local" && cfg.Runner != "docker" {
		return nil, fmt.Errorf("unknown runner %q (want local or docker)", cfg.Runner)
	}
	return cfg, nil
}

// newInvoker selects the process runner named by the configuration.
func newInvoker(cfg *config.Config) (toolchain.Invoker, error) {
	if cfg.Runner == "docker" {
		return toolchain.NewDockerInvoker(cfg.DockerImage, cfg.OutputLimit)
	}
	return toolchain.NewLocalInvoker(cfg.OutputLimit), nil
}

func orchestratorConfig(cfg *config.Config) (toolchain.Config, time.Duration) {
	tc := toolchain.Config{
		Compiler:        cfg.Compiler,
		CompilerFlags:   cfg.CompilerFlags,
		Interpreter:     cfg.Interpreter,
		InterpreterArgs: cfg.InterpreterArgs,
	}
	return tc, cfg.Timeout
}
