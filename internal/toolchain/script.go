package toolchain

import (
	"context"
	"fmt"
	"path/filepath"

	"jobforge/internal/job"
	"jobforge/internal/verdict"
)

// ScriptAdapter feeds a script to the configured interpreter runtime. There
// is nothing to compile; prepare only confirms the runtime exists.
type ScriptAdapter struct {
	inv Invoker
	cfg Config
}

// Prepare confirms the interpreter resolves. Its absence is reported as
// runtime-unavailable, a distinct sub-reason from a compile error.
func (a *ScriptAdapter) Prepare(ctx context.Context, d *job.Descriptor) (*PrepareResult, error) {
	interp := a.cfg.Interpreter
	if interp == "" {
		interp = "python3"
	}
	if _, err := a.inv.LookPath(interp); err != nil {
		return nil, &PrepareError{
			Reason: verdict.ReasonRuntimeUnavailable,
			Detail: fmt.Sprintf("interpreter %q not found: %v", interp, err),
		}
	}
	return &PrepareResult{}, nil
}

// Execute invokes the interpreter on the staged script with the working
// directory as the interpreter's current directory, so everything the script
// writes lands inside the job's isolated area.
func (a *ScriptAdapter) Execute(ctx context.Context, d *job.Descriptor, _ *PrepareResult) (*RunResult, error) {
	interp := a.cfg.Interpreter
	if interp == "" {
		interp = "python3"
	}

	argv := append([]string{interp}, a.cfg.InterpreterArgs...)
	argv = append(argv, filepath.Base(d.SourcePath))
	argv = append(argv, d.Args...)

	res, err := a.inv.Run(ctx, Invocation{Argv: argv, Dir: d.WorkDir, Env: d.Env})
	return runResult(res), err
}
