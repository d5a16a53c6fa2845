package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"jobforge/internal/job"
	"jobforge/internal/logger"
	"jobforge/internal/toolchain"
	"jobforge/internal/verdict"
)

// stubInvoker simulates toolchain processes. Each queued step answers one
// Run call in order and may drop files into the invocation directory.
type stubInvoker struct {
	steps   []stubStep
	calls   []toolchain.Invocation
	missing map[string]bool
}

type stubStep struct {
	exitCode int
	output   string
	err      error
	hang     bool
	files    map[string]string
}

func (s *stubInvoker) LookPath(name string) (string, error) {
	if s.missing[name] {
		return "", fmt.Errorf("exec: %q: executable file not found in $PATH", name)
	}
	return "/usr/bin/" + name, nil
}

func (s *stubInvoker) Run(ctx context.Context, inv toolchain.Invocation) (*toolchain.ProcessResult, error) {
	s.calls = append(s.calls, inv)

	if len(s.steps) == 0 {
		return &toolchain.ProcessResult{}, nil
	}
	step := s.steps[0]
	s.steps = s.steps[1:]

	if step.hang {
		<-ctx.Done()
		return &toolchain.ProcessResult{ExitCode: -1, Output: []byte(step.output)}, ctx.Err()
	}
	if step.err != nil {
		return &toolchain.ProcessResult{ExitCode: -1}, step.err
	}
	for rel, content := range step.files {
		path := filepath.Join(inv.Dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
			return nil, err
		}
	}
	return &toolchain.ProcessResult{
		ExitCode: step.exitCode,
		Output:   []byte(step.output),
		Duration: time.Millisecond,
	}, nil
}

func newOrchestrator(inv toolchain.Invoker, timeout time.Duration) *Orchestrator {
	return New(inv, Config{Timeout: timeout}, logger.New(), nil)
}

func descriptor(t *testing.T, kind job.Kind, source string, artifacts ...job.ArtifactSpec) *job.Descriptor {
	t.Helper()
	name := "job.py"
	if kind == job.KindNativeCompiled {
		name = "main.c"
	}
	src := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(src, []byte(source), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	d, err := job.New(job.Spec{
		Kind:       kind,
		SourcePath: src,
		WorkDir:    filepath.Join(t.TempDir(), "work"),
		Artifacts:  artifacts,
	})
	if err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	return d
}

func TestRun_NativePassedWithNoArtifacts(t *testing.T) {
	inv := &stubInvoker{steps: []stubStep{
		{exitCode: 0, files: map[string]string{"program": "bin"}}, // compile
		{exitCode: 0, output: "Max int = 2147483647\n"},           // run
	}}
	d := descriptor(t, job.KindNativeCompiled, "int main(void){return 0;}\n")

	res, err := newOrchestrator(inv, 0).Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Verdict.IsPassed() {
		t.Errorf("expected passed, got %s (%s)", res.Verdict.Outcome, res.Verdict.Detail)
	}
	if res.Execution.PrepareExit != 0 || res.Execution.RunExit != 0 {
		t.Errorf("expected clean exits, got prepare=%d run=%d", res.Execution.PrepareExit, res.Execution.RunExit)
	}
}

func TestRun_StagesSourceIntoWorkDir(t *testing.T) {
	inv := &stubInvoker{steps: []stubStep{{exitCode: 0}}}
	d := descriptor(t, job.KindInterpretedScript, "print('hi')\n")

	if _, err := newOrchestrator(inv, 0).Run(context.Background(), d); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(d.WorkDir, "job.py")); err != nil {
		t.Errorf("expected staged script in the working directory: %v", err)
	}
}

func TestRun_PrepareFailureShortCircuits(t *testing.T) {
	inv := &stubInvoker{steps: []stubStep{
		{exitCode: 1, output: "main.c:1: error: unknown type"},
	}}
	d := descriptor(t, job.KindNativeCompiled, "int main(void){return 0;}\n",
		job.ArtifactSpec{Path: "out.log", Kind: job.ArtifactTextLog})

	res, err := newOrchestrator(inv, 0).Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Verdict.Outcome != verdict.PrepareFailed {
		t.Errorf("expected prepare-failed, got %s", res.Verdict.Outcome)
	}
	if res.Verdict.Reason != verdict.ReasonCompileError {
		t.Errorf("expected compile-error, got %s", res.Verdict.Reason)
	}
	if len(res.Checks) != 0 {
		t.Errorf("artifact checks must be skipped after prepare failure, got %d", len(res.Checks))
	}
	if len(inv.calls) != 1 {
		t.Errorf("execute must not run after a failed prepare, got %d process calls", len(inv.calls))
	}
}

func TestRun_RuntimeUnavailable(t *testing.T) {
	inv := &stubInvoker{missing: map[string]bool{"python3": true}}
	d := descriptor(t, job.KindInterpretedScript, "print('hi')\n")

	res, err := newOrchestrator(inv, 0).Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Verdict.Outcome != verdict.PrepareFailed {
		t.Errorf("expected prepare-failed, got %s", res.Verdict.Outcome)
	}
	if res.Verdict.Reason != verdict.ReasonRuntimeUnavailable {
		t.Errorf("expected runtime-unavailable, got %s", res.Verdict.Reason)
	}
}

func TestRun_Timeout(t *testing.T) {
	inv := &stubInvoker{steps: []stubStep{{hang: true, output: "looping forever\n"}}}
	d := descriptor(t, job.KindInterpretedScript, "while True: pass\n")

	start := time.Now()
	res, err := newOrchestrator(inv, 50*time.Millisecond).Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Verdict.Outcome != verdict.RunFailed || res.Verdict.Reason != verdict.ReasonTimeout {
		t.Errorf("expected run-failed/timeout, got %s/%s", res.Verdict.Outcome, res.Verdict.Reason)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout was not enforced promptly, took %v", elapsed)
	}
	if len(res.Checks) != 0 {
		t.Error("artifact checks must be skipped after a timeout")
	}
	// Partial output captured before the kill stays available for diagnosis.
	if string(res.Execution.Output) != "looping forever\n" {
		t.Errorf("expected partial output to survive the timeout, got %q", res.Execution.Output)
	}
}

func TestRun_CanceledByCaller(t *testing.T) {
	inv := &stubInvoker{steps: []stubStep{{hang: true, output: "half done\n"}}}
	d := descriptor(t, job.KindInterpretedScript, "while True: pass\n")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	res, err := newOrchestrator(inv, time.Minute).Run(ctx, d)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Verdict.Outcome != verdict.RunFailed || res.Verdict.Reason != verdict.ReasonCanceled {
		t.Errorf("expected run-failed/canceled, got %s/%s", res.Verdict.Outcome, res.Verdict.Reason)
	}
	if string(res.Execution.Output) != "half done\n" {
		t.Errorf("expected partial output to survive cancellation, got %q", res.Execution.Output)
	}
}

func TestRun_ProcessCrash(t *testing.T) {
	inv := &stubInvoker{steps: []stubStep{{err: errors.New("fork/exec: permission denied")}}}
	d := descriptor(t, job.KindInterpretedScript, "print('hi')\n")

	res, err := newOrchestrator(inv, 0).Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Verdict.Outcome != verdict.RunFailed || res.Verdict.Reason != verdict.ReasonProcessCrashed {
		t.Errorf("expected run-failed/process-crashed, got %s/%s", res.Verdict.Outcome, res.Verdict.Reason)
	}
}

func TestRun_StdoutCapturedAsDeclaredArtifact(t *testing.T) {
	output := "Max int = 2147483647\nMax uint64 = 18446744073709551615\n"
	inv := &stubInvoker{steps: []stubStep{
		{exitCode: 0, files: map[string]string{"program": "bin"}}, // compile
		{exitCode: 0, output: output},                             // run
	}}
	d := descriptor(t, job.KindNativeCompiled, "int main(void){return 0;}\n",
		job.ArtifactSpec{Path: StdoutLog, Kind: job.ArtifactTextLog})

	res, err := newOrchestrator(inv, 0).Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Verdict.IsPassed() {
		t.Fatalf("expected passed, got %s (%s)", res.Verdict.Outcome, res.Verdict.Detail)
	}

	data, err := os.ReadFile(filepath.Join(d.WorkDir, StdoutLog))
	if err != nil {
		t.Fatalf("captured output log missing: %v", err)
	}
	if string(data) != output {
		t.Errorf("output log content mismatch: %q", data)
	}
	if lines := strings.Count(string(data), "\n"); lines != 2 {
		t.Errorf("expected two lines of constants, got %d", lines)
	}
}

func TestRun_JobOwnStdoutLogWins(t *testing.T) {
	inv := &stubInvoker{steps: []stubStep{
		{exitCode: 0, output: "console noise\n", files: map[string]string{StdoutLog: "written by the job\n"}},
	}}
	d := descriptor(t, job.KindInterpretedScript, "print('hi')\n",
		job.ArtifactSpec{Path: StdoutLog, Kind: job.ArtifactTextLog})

	res, err := newOrchestrator(inv, 0).Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Verdict.IsPassed() {
		t.Fatalf("expected passed, got %s (%s)", res.Verdict.Outcome, res.Verdict.Detail)
	}

	data, err := os.ReadFile(filepath.Join(d.WorkDir, StdoutLog))
	if err != nil {
		t.Fatalf("read output log: %v", err)
	}
	if string(data) != "written by the job\n" {
		t.Errorf("a job-produced file must not be clobbered, got %q", data)
	}
}

func TestRun_NonZeroExitWithValidArtifactsPasses(t *testing.T) {
	inv := &stubInvoker{steps: []stubStep{
		{exitCode: 2, output: "warning: partial run\n", files: map[string]string{"out.log": "two lines\nof text\n"}},
	}}
	d := descriptor(t, job.KindInterpretedScript, "print('hi')\n",
		job.ArtifactSpec{Path: "out.log", Kind: job.ArtifactTextLog})

	res, err := newOrchestrator(inv, 0).Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// Exit code is recorded but the verdict follows artifact state.
	if !res.Verdict.IsPassed() {
		t.Errorf("expected passed, got %s (%s)", res.Verdict.Outcome, res.Verdict.Detail)
	}
	if res.Execution.RunExit != 2 {
		t.Errorf("expected recorded exit code 2, got %d", res.Execution.RunExit)
	}
}

func TestRun_MissingArtifact(t *testing.T) {
	inv := &stubInvoker{steps: []stubStep{{exitCode: 0}}}
	d := descriptor(t, job.KindInterpretedScript, "print('hi')\n",
		job.ArtifactSpec{Path: "hist.pdf", Kind: job.ArtifactBinaryDocument})

	res, err := newOrchestrator(inv, 0).Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Verdict.Outcome != verdict.ArtifactMissing {
		t.Errorf("expected artifact-missing, got %s", res.Verdict.Outcome)
	}
}

func TestRun_WorkDirAlreadyPopulated(t *testing.T) {
	inv := &stubInvoker{}
	d := descriptor(t, job.KindInterpretedScript, "print('hi')\n")

	if err := os.MkdirAll(d.WorkDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(d.WorkDir, "leftover.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write leftover: %v", err)
	}

	_, err := newOrchestrator(inv, 0).Run(context.Background(), d)
	if !errors.Is(err, ErrEnvironment) {
		t.Fatalf("expected ErrEnvironment, got %v", err)
	}
	if len(inv.calls) != 0 {
		t.Error("no process may run when the working directory is unusable")
	}
}

func TestRun_WorkDirLeftIntact(t *testing.T) {
	inv := &stubInvoker{steps: []stubStep{
		{exitCode: 0, files: map[string]string{"out.log": "kept\n"}},
	}}
	d := descriptor(t, job.KindInterpretedScript, "print('hi')\n",
		job.ArtifactSpec{Path: "out.log", Kind: job.ArtifactTextLog})

	if _, err := newOrchestrator(inv, 0).Run(context.Background(), d); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(d.WorkDir, "out.log"))
	if err != nil {
		t.Fatalf("working directory must be left intact: %v", err)
	}
	if string(data) != "kept\n" {
		t.Errorf("unexpected artifact content: %q", data)
	}
}

func TestRun_IdempotentAcrossWorkDirs(t *testing.T) {
	d := descriptor(t, job.KindInterpretedScript, "print('hi')\n",
		job.ArtifactSpec{Path: "out.log", Kind: job.ArtifactTextLog})
	d2, err := d.WithWorkDir(filepath.Join(t.TempDir(), "work-2"))
	if err != nil {
		t.Fatalf("WithWorkDir: %v", err)
	}

	step := stubStep{exitCode: 0, files: map[string]string{"out.log": "same\n"}}
	res1, err := newOrchestrator(&stubInvoker{steps: []stubStep{step}}, 0).Run(context.Background(), d)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	res2, err := newOrchestrator(&stubInvoker{steps: []stubStep{step}}, 0).Run(context.Background(), d2)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if res1.Verdict.Outcome != res2.Verdict.Outcome {
		t.Errorf("same job must classify identically: %s vs %s", res1.Verdict.Outcome, res2.Verdict.Outcome)
	}
}

func TestRun_SymlinkEscapeDetected(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "loot.log")
	if err := os.WriteFile(outside, []byte("stolen\n"), 0o644); err != nil {
		t.Fatalf("write outside file: %v", err)
	}

	d := descriptor(t, job.KindInterpretedScript, "print('hi')\n",
		job.ArtifactSpec{Path: "out.log", Kind: job.ArtifactTextLog})

	// Simulate the job planting a symlink out of its sandbox.
	orc := newOrchestrator(&symlinkInvoker{target: outside}, 0)
	res, err := orc.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Verdict.Outcome != verdict.RunFailed || res.Verdict.Reason != verdict.ReasonSandboxEscape {
		t.Errorf("expected run-failed/artifact-escaped-sandbox, got %s/%s", res.Verdict.Outcome, res.Verdict.Reason)
	}
	if !strings.Contains(res.Verdict.Detail, "outside the working directory") {
		t.Errorf("expected escape detail, got: %s", res.Verdict.Detail)
	}
}

// symlinkInvoker acts as a job whose only effect is planting a symlink
// named out.log pointing at target.
type symlinkInvoker struct {
	target string
}

func (s *symlinkInvoker) LookPath(name string) (string, error) { return "/usr/bin/" + name, nil }

func (s *symlinkInvoker) Run(_ context.Context, inv toolchain.Invocation) (*toolchain.ProcessResult, error) {
	if err := os.Symlink(s.target, filepath.Join(inv.Dir, "out.log")); err != nil {
		return nil, err
	}
	return &toolchain.ProcessResult{}, nil
}
