package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"jobforge/internal/job"
	"jobforge/internal/logger"
	"jobforge/internal/orchestrator"
	"jobforge/pkg/api"
)

var runCmd = &cobra.Command{
	Use:   "run [source]",
	Short: "Run a single job and validate its artifacts",
	Long: `Run one job from a source file, then validate the artifacts it declared.

The source is staged into a fresh working directory before anything executes,
so the job never touches the original file. After the job completes, its
captured stdout/stderr is written to stdout.log inside the working directory,
so the console output itself can be declared as a text-log artifact. The
working directory is kept after the run for inspection.

Examples:
  forge run showsize.c --kind native-compiled --artifact text-log:stdout.log
  forge run hist.py --kind interpreted-script \
    --artifact binary-document:hist.pdf \
    --artifact structured-data-file:tree.csv:100 \
    --arg 100 --input calibration.dat`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		kindFlag, _ := flags.GetString("kind")
		artifactFlags, _ := flags.GetStringArray("artifact")
		argFlags, _ := flags.GetStringArray("arg")
		inputFlags, _ := flags.GetStringArray("input")
		envFlags, _ := flags.GetStringArray("env")
		workDir, _ := flags.GetString("workdir")
		asJSON, _ := flags.GetBool("json")

		// Errors before a verdict exists still get a JSON document when
		// the caller asked for machine-readable output.
		fail := func(err error) error {
			if asJSON {
				printJSON(cmd, api.ErrorResponse{Error: err.Error(), Source: args[0]})
			}
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return fail(err)
		}

		kind, err := job.ParseKind(kindFlag)
		if err != nil {
			return fail(err)
		}

		artifacts := make([]job.ArtifactSpec, 0, len(artifactFlags))
		for _, a := range artifactFlags {
			spec, err := parseArtifactFlag(a)
			if err != nil {
				return fail(err)
			}
			artifacts = append(artifacts, spec)
		}

		env, err := parseEnvFlags(envFlags)
		if err != nil {
			return fail(err)
		}

		if workDir == "" {
			workDir = filepath.Join(cfg.WorkRoot, uuid.NewString())
		}

		d, err := job.New(job.Spec{
			Kind:       kind,
			SourcePath: args[0],
			WorkDir:    workDir,
			Args:       argFlags,
			Env:        env,
			InputFiles: inputFlags,
			Artifacts:  artifacts,
		})
		if err != nil {
			return fail(err)
		}

		inv, err := newInvoker(cfg)
		if err != nil {
			return fail(err)
		}

		tc, timeout := orchestratorConfig(cfg)
		orc := orchestrator.New(inv, orchestrator.Config{
			Toolchain: tc,
			Timeout:   timeout,
		}, logger.New(), nil)

		res, err := orc.Run(cmd.Context(), d)
		if err != nil {
			return fail(err)
		}

		if asJSON {
			if err := printJSON(cmd, buildReport(d, res)); err != nil {
				return err
			}
		} else {
			printVerdict(cmd, d, res.Verdict)
		}

		if !res.Verdict.IsPassed() {
			return fmt.Errorf("job failed: %s (%s)", res.Verdict.Outcome, res.Verdict.Reason)
		}
		return nil
	},
}

func init() {
	flags := runCmd.Flags()
	flags.StringP("kind", "k", "", "job kind: native-compiled or interpreted-script (required)")
	flags.StringArrayP("artifact", "a", nil, "expected artifact as kind:path[:records] (repeatable)")
	flags.StringArray("arg", nil, "argument passed to the job (repeatable)")
	flags.StringArrayP("input", "i", nil, "input file staged into the working directory (repeatable)")
	flags.StringArrayP("env", "e", nil, "extra environment as KEY=VALUE (repeatable)")
	flags.StringP("workdir", "w", "", "working directory (default: fresh directory under the work root)")
	flags.Bool("json", false, "emit the full report as JSON")
	runCmd.MarkFlagRequired("kind")

	rootCmd.AddCommand(runCmd)
}
