// Package orchestrator runs one job end-to-end: working directory setup,
// toolchain dispatch, bounded execution and artifact validation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"jobforge/internal/artifact"
	"jobforge/internal/job"
	"jobforge/internal/logger"
	"jobforge/internal/observability"
	"jobforge/internal/toolchain"
	"jobforge/internal/verdict"
)

// ErrEnvironment is returned when the working directory cannot be set up.
// It is not a job failure and typically needs operator intervention.
var ErrEnvironment = errors.New("environment error")

// DefaultTimeout bounds the execute step when the config does not say
// otherwise.
const DefaultTimeout = 30 * time.Second

// StdoutLog is the file inside the working directory that receives the
// job's captured stdout/stderr after a completed execute step. Declaring
// it as a text-log artifact makes the console output itself a validated
// output of the job.
const StdoutLog = "stdout.log"

// Config holds the orchestrator's explicit dependencies on the outside
// world. Toolchain binaries are named here rather than discovered from
// ambient process state.
type Config struct {
	Toolchain toolchain.Config

	// Timeout bounds a single execute step. Zero means DefaultTimeout.
	Timeout time.Duration
}

// ExecutionResult is the raw record of one job invocation. Prepare and run
// status are kept distinct so a compile failure is never confused with a
// runtime failure. Immutable after Run returns it.
type ExecutionResult struct {
	// PrepareExit is the prepare step's exit code; -1 when prepare never
	// completed.
	PrepareExit int

	// RunExit is the execute step's exit code; -1 when the job never ran
	// or was terminated.
	RunExit int

	// Output is the job's combined stdout/stderr, bounded in size.
	Output    []byte
	Truncated bool

	// Failure is the first short-circuiting failure, nil on a clean
	// pipeline. Artifact problems are not recorded here; they live in
	// the checks.
	Failure *verdict.Failure

	PrepareDuration time.Duration
	RunDuration     time.Duration
}

// Result bundles everything one invocation produced. The Verdict is the only
// part external callers need; the rest is diagnostics.
type Result struct {
	Execution ExecutionResult
	Checks    []artifact.Check
	Verdict   *verdict.Verdict
}

// Orchestrator executes jobs through an injected process invoker. It is
// safe for concurrent use as long as every invocation gets a distinct
// working directory.
type Orchestrator struct {
	cfg     Config
	invoker toolchain.Invoker
	log     *slog.Logger
	metrics *observability.JobMetrics
	tracer  trace.Tracer
}

// New creates an orchestrator. log must not be nil; metrics may be.
func New(inv toolchain.Invoker, cfg Config, log *slog.Logger, metrics *observability.JobMetrics) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Orchestrator{
		cfg:     cfg,
		invoker: inv,
		log:     log,
		metrics: metrics,
		tracer:  otel.Tracer("jobforge-orchestrator"),
	}
}

// Run executes one job and always produces exactly one Verdict, even under
// timeout or crash. The returned error is non-nil only for environment
// failures (working directory setup), which happen before the job itself is
// touched. The working directory is left intact for the caller to inspect;
// retention is the caller's policy, never the core's.
func (o *Orchestrator) Run(ctx context.Context, d *job.Descriptor) (*Result, error) {
	ctx = logger.WithJobID(ctx, d.ID.String())
	log := logger.FromContext(ctx, o.log)

	ctx, span := o.tracer.Start(ctx, "run_job",
		trace.WithAttributes(
			attribute.String("job.id", d.ID.String()),
			attribute.String("job.kind", string(d.Kind)),
			attribute.String("job.source", d.SourcePath),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := o.runJob(ctx, log, d)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnvironment, err)
	}

	res.Verdict = verdict.Report(res.Execution.Failure, res.Checks)

	span.SetAttributes(
		attribute.String("job.outcome", string(res.Verdict.Outcome)),
		attribute.Int("job.run_exit", res.Execution.RunExit),
	)
	o.metrics.Observe(ctx, string(res.Verdict.Outcome), time.Since(start))

	log.Info("job finished",
		"outcome", res.Verdict.Outcome,
		"reason", res.Verdict.Reason,
		"run_exit", res.Execution.RunExit,
		"elapsed", time.Since(start),
	)
	return res, nil
}

// runJob drives the prepare/execute/validate sequence. An error means the
// working directory could not be set up; the job itself was never touched.
func (o *Orchestrator) runJob(ctx context.Context, log *slog.Logger, d *job.Descriptor) (*Result, error) {
	if err := o.setupWorkDir(d); err != nil {
		log.Error("working directory setup failed", "dir", d.WorkDir, "error", err)
		return nil, err
	}

	res := &Result{Execution: ExecutionResult{PrepareExit: -1, RunExit: -1}}

	adapter, err := toolchain.ForKind(d.Kind, o.invoker, o.cfg.Toolchain)
	if err != nil {
		// Unreachable for descriptors built through job.New; keep it as a
		// prepare failure so a Verdict still comes out.
		res.Execution.Failure = &verdict.Failure{Outcome: verdict.PrepareFailed, Detail: err.Error()}
		return res, nil
	}

	prep, err := adapter.Prepare(ctx, d)
	if err != nil {
		res.Execution.Failure = prepareFailure(err)
		log.Warn("prepare failed", "reason", res.Execution.Failure.Reason, "detail", res.Execution.Failure.Detail)
		return res, nil
	}
	res.Execution.PrepareExit = prep.ExitCode
	res.Execution.PrepareDuration = prep.Duration

	execCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	run, err := adapter.Execute(execCtx, d, prep)
	if run != nil {
		// Partial output survives timeouts and crashes; it is often the
		// only clue to what the job was doing when it died.
		res.Execution.RunExit = run.ExitCode
		res.Execution.RunDuration = run.Duration
		res.Execution.Output = run.Output
		res.Execution.Truncated = run.Truncated
	}
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			res.Execution.Failure = &verdict.Failure{
				Outcome: verdict.RunFailed,
				Reason:  verdict.ReasonTimeout,
				Detail:  fmt.Sprintf("execution timed out after %v", o.cfg.Timeout),
			}
			log.Warn("job timed out", "timeout", o.cfg.Timeout)
		case ctx.Err() != nil:
			res.Execution.Failure = &verdict.Failure{
				Outcome: verdict.RunFailed,
				Reason:  verdict.ReasonCanceled,
				Detail:  fmt.Sprintf("execution canceled by caller: %v", ctx.Err()),
			}
			log.Warn("job canceled", "error", ctx.Err())
		default:
			res.Execution.Failure = &verdict.Failure{
				Outcome: verdict.RunFailed,
				Reason:  verdict.ReasonProcessCrashed,
				Detail:  fmt.Sprintf("process did not complete: %v", err),
			}
			log.Warn("job process crashed", "error", err)
		}
		return res, nil
	}

	if err := o.writeOutputLog(d, res.Execution.Output); err != nil {
		log.Warn("could not write captured output log", "error", err)
	}

	// The verdict is driven by artifact state, not the exit code: a job may
	// legitimately exit non-zero with valid artifacts, or vice versa.
	res.Checks = artifact.Validate(d.WorkDir, d.Artifacts)
	return res, nil
}

// writeOutputLog materializes the job's captured stdout/stderr into the
// working directory under StdoutLog, so a job can declare its own console
// output as a text-log artifact. A file the job itself produced under that
// name wins.
func (o *Orchestrator) writeOutputLog(d *job.Descriptor, output []byte) error {
	path := filepath.Join(d.WorkDir, StdoutLog)
	if _, err := os.Lstat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, output, 0o644)
}

// setupWorkDir creates the working directory fresh and stages the source and
// declared input files into it. An existing non-empty directory is an
// environment error: working directories are never shared or reused.
func (o *Orchestrator) setupWorkDir(d *job.Descriptor) error {
	if entries, err := os.ReadDir(d.WorkDir); err == nil && len(entries) > 0 {
		return fmt.Errorf("working directory %s already exists and is not empty", d.WorkDir)
	}
	if err := os.MkdirAll(d.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create working directory: %w", err)
	}

	// Everything the job needs is staged inside the sandbox; adapters only
	// ever reference staged relative paths.
	if err := stageFile(d.SourcePath, d.WorkDir); err != nil {
		return fmt.Errorf("stage source: %w", err)
	}
	for _, in := range d.InputFiles {
		if err := stageFile(in, d.WorkDir); err != nil {
			return fmt.Errorf("stage input %s: %w", in, err)
		}
	}
	return nil
}

func stageFile(src, dir string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(filepath.Join(dir, filepath.Base(src)), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func prepareFailure(err error) *verdict.Failure {
	var perr *toolchain.PrepareError
	if errors.As(err, &perr) {
		return &verdict.Failure{
			Outcome: verdict.PrepareFailed,
			Reason:  perr.Reason,
			Detail:  perr.Detail,
		}
	}
	return &verdict.Failure{
		Outcome: verdict.PrepareFailed,
		Detail:  err.Error(),
	}
}
