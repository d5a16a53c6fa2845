// Package toolchain provides the per-job-kind adapters that prepare and
// execute jobs through an injected process invoker.
package toolchain

import (
	"context"
	"fmt"
	"time"

	"jobforge/internal/job"
	"jobforge/internal/verdict"
)

// Config names the external toolchain binaries and their fixed arguments.
// It is passed explicitly rather than read from ambient process state so the
// adapters stay independently testable.
type Config struct {
	// Compiler is the native compiler binary, e.g. "cc" or "gcc".
	Compiler string
	// CompilerFlags are inserted between the compiler and the source file.
	CompilerFlags []string

	// Interpreter is the script runtime binary, e.g. "python3".
	Interpreter string
	// InterpreterArgs are inserted between the interpreter and the script.
	InterpreterArgs []string
}

// PrepareResult is the output of a successful prepare step.
type PrepareResult struct {
	// Binary is the path of the produced executable, relative to the
	// working directory. Empty for interpreted jobs.
	Binary string

	// Output is the captured compiler output, kept for diagnostics.
	Output []byte

	ExitCode int
	Duration time.Duration
}

// RunResult is the raw outcome of the execute step. A non-zero exit code is
// recorded here but is not itself a failure; the verdict is driven by
// artifact state.
type RunResult struct {
	ExitCode  int
	Output    []byte
	Truncated bool
	Duration  time.Duration
}

// PrepareError is returned when the prepare step fails. The reason separates
// a compile error from a missing interpreter runtime.
type PrepareError struct {
	Reason verdict.Reason
	Detail string
}

func (e *PrepareError) Error() string {
	return fmt.Sprintf("prepare failed (%s): %s", e.Reason, e.Detail)
}

// Adapter is implemented once per job kind. Prepare must succeed before
// Execute may be called; implementations never retry.
type Adapter interface {
	// Prepare makes the job runnable: compile the source for native jobs,
	// confirm the interpreter runtime for scripts. Failures are returned
	// as *PrepareError.
	Prepare(ctx context.Context, d *job.Descriptor) (*PrepareResult, error)

	// Execute runs the prepared job with the working directory as its
	// current directory, capturing combined output and exit code. On
	// timeout or crash the returned result, if non-nil, carries whatever
	// partial output was captured before the process died.
	Execute(ctx context.Context, d *job.Descriptor, prep *PrepareResult) (*RunResult, error)
}

// runResult converts a raw process result, keeping partial output across
// error returns.
func runResult(res *ProcessResult) *RunResult {
	if res == nil {
		return nil
	}
	return &RunResult{
		ExitCode:  res.ExitCode,
		Output:    res.Output,
		Truncated: res.Truncated,
		Duration:  res.Duration,
	}
}

// ForKind returns the adapter variant for a job kind. The set is closed:
// adding a kind means adding one variant here.
func ForKind(kind job.Kind, inv Invoker, cfg Config) (Adapter, error) {
	switch kind {
	case job.KindNativeCompiled:
		return &NativeAdapter{inv: inv, cfg: cfg}, nil
	case job.KindInterpretedScript:
		return &ScriptAdapter{inv: inv, cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("no toolchain adapter for job kind %q", kind)
	}
}
