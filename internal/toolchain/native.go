package toolchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"jobforge/internal/job"
	"jobforge/internal/verdict"
)

// compiledBinaryName is the executable the compiler is asked to produce
// inside the working directory.
const compiledBinaryName = "program"

// NativeAdapter compiles a source file with the native compiler, then runs
// the produced executable.
type NativeAdapter struct {
	inv Invoker
	cfg Config
}

// Prepare invokes the compiler on the staged source. A non-zero compiler
// exit or a missing output binary is a compile error carrying the compiler's
// diagnostic text.
func (a *NativeAdapter) Prepare(ctx context.Context, d *job.Descriptor) (*PrepareResult, error) {
	compiler := a.cfg.Compiler
	if compiler == "" {
		compiler = "cc"
	}
	if _, err := a.inv.LookPath(compiler); err != nil {
		return nil, &PrepareError{
			Reason: verdict.ReasonRuntimeUnavailable,
			Detail: fmt.Sprintf("compiler %q not found: %v", compiler, err),
		}
	}

	// The orchestrator stages the source into the working directory; the
	// compiler only ever sees the staged relative path.
	source := filepath.Base(d.SourcePath)

	argv := append([]string{compiler}, a.cfg.CompilerFlags...)
	argv = append(argv, "-o", compiledBinaryName, source)

	res, err := a.inv.Run(ctx, Invocation{Argv: argv, Dir: d.WorkDir, Env: d.Env})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &PrepareError{
			Reason: verdict.ReasonCompileError,
			Detail: fmt.Sprintf("compiler did not run: %v", err),
		}
	}
	if res.ExitCode != 0 {
		return nil, &PrepareError{
			Reason: verdict.ReasonCompileError,
			Detail: fmt.Sprintf("compiler exited with code %d: %s", res.ExitCode, string(res.Output)),
		}
	}

	binary := filepath.Join(d.WorkDir, compiledBinaryName)
	if info, err := os.Stat(binary); err != nil || info.Size() == 0 {
		return nil, &PrepareError{
			Reason: verdict.ReasonCompileError,
			Detail: fmt.Sprintf("compiler exited cleanly but produced no executable at %s", compiledBinaryName),
		}
	}

	return &PrepareResult{
		Binary:   compiledBinaryName,
		Output:   res.Output,
		ExitCode: res.ExitCode,
		Duration: res.Duration,
	}, nil
}

// Execute runs the compiled binary with the descriptor's arguments, the
// working directory as cwd, and combined output captured.
func (a *NativeAdapter) Execute(ctx context.Context, d *job.Descriptor, prep *PrepareResult) (*RunResult, error) {
	if prep == nil || prep.Binary == "" {
		return nil, fmt.Errorf("execute called without a prepared binary")
	}

	argv := append([]string{"." + string(filepath.Separator) + prep.Binary}, d.Args...)
	res, err := a.inv.Run(ctx, Invocation{Argv: argv, Dir: d.WorkDir, Env: d.Env})
	return runResult(res), err
}
