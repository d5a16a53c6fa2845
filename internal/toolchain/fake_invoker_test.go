package toolchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// fakeInvoker simulates external toolchains without spawning processes.
// Each queued step answers one Run call in order.
type fakeInvoker struct {
	steps   []fakeStep
	calls   []Invocation
	looked  []string
	missing map[string]bool // binaries LookPath cannot resolve
}

type fakeStep struct {
	exitCode int
	output   string
	err      error
	hang     bool // block until the context expires

	// files written into the invocation's Dir before returning, keyed by
	// relative path. Simulates what the process would have produced.
	files map[string]string
}

func (f *fakeInvoker) LookPath(name string) (string, error) {
	f.looked = append(f.looked, name)
	if f.missing[name] {
		return "", fmt.Errorf("exec: %q: executable file not found in $PATH", name)
	}
	return "/usr/bin/" + name, nil
}

func (f *fakeInvoker) Run(ctx context.Context, inv Invocation) (*ProcessResult, error) {
	f.calls = append(f.calls, inv)

	if len(f.steps) == 0 {
		return &ProcessResult{}, nil
	}
	step := f.steps[0]
	f.steps = f.steps[1:]

	if step.hang {
		<-ctx.Done()
		return &ProcessResult{ExitCode: -1}, ctx.Err()
	}
	if step.err != nil {
		return &ProcessResult{ExitCode: -1}, step.err
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

	return &ProcessResult{
		ExitCode: step.exitCode,
		Output:   []byte(step.output),
		Duration: time.Millisecond,
	}, nil
}
