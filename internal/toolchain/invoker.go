package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Invocation describes one external process run.
type Invocation struct {
	// Argv is the full command line; Argv[0] is the binary.
	Argv []string

	// Dir is the process working directory. For job processes this is the
	// job's sandbox and the only path they may write to.
	Dir string

	// Env is merged over the inherited environment.
	Env map[string]string
}

// ProcessResult captures what one external process did.
type ProcessResult struct {
	ExitCode int

	// Output is combined stdout and stderr, truncated at the invoker's
	// byte limit.
	Output    []byte
	Truncated bool
	Duration  time.Duration
}

// Invoker is the injected capability for spawning external processes, so
// adapters can be tested with fakes that simulate success, compile failure
// and hangs without real toolchains.
type Invoker interface {
	// LookPath resolves a binary name to a runnable path.
	LookPath(name string) (string, error)

	// Run executes the process to completion. Context expiry terminates
	// the process and returns the context error with whatever output was
	// captured up to that point.
	Run(ctx context.Context, inv Invocation) (*ProcessResult, error)
}

// DefaultOutputLimit bounds captured job output.
const DefaultOutputLimit = 1 << 20 // 1 MiB

// LocalInvoker runs processes directly on the host via os/exec.
type LocalInvoker struct {
	// OutputLimit caps captured combined output in bytes. Zero means
	// DefaultOutputLimit.
	OutputLimit int
}

// NewLocalInvoker creates a host-process invoker.
func NewLocalInvoker(outputLimit int) *LocalInvoker {
	if outputLimit <= 0 {
		outputLimit = DefaultOutputLimit
	}
	return &LocalInvoker{OutputLimit: outputLimit}
}

func (l *LocalInvoker) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func (l *LocalInvoker) Run(ctx context.Context, inv Invocation) (*ProcessResult, error) {
	if len(inv.Argv) == 0 {
		return nil, errors.New("command is required")
	}

	limit := l.OutputLimit
	if limit <= 0 {
		limit = DefaultOutputLimit
	}
	out := newBoundedBuffer(limit)

	cmd := exec.CommandContext(ctx, inv.Argv[0], inv.Argv[1:]...)
	cmd.Dir = inv.Dir
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Env = mergeEnv(os.Environ(), inv.Env)
	// Give a killed process a moment to release its pipes before Wait
	// gives up on them.
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	err := cmd.Run()
	res := &ProcessResult{
		Output:    out.Bytes(),
		Truncated: out.Truncated(),
		Duration:  time.Since(start),
	}

	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, ctx.Err()
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		// The process never ran (binary missing, not executable, ...).
		res.ExitCode = -1
		return res, fmt.Errorf("start %s: %w", inv.Argv[0], err)
	}

	return res, nil
}

func mergeEnv(base []string, extra map[string]string) []string {
	env := append([]string(nil), base...)
	for k, v := range extra {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// boundedBuffer is an io.Writer that keeps at most limit bytes and discards
// the rest, remembering that it did.
type boundedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	truncated bool
}

func newBoundedBuffer(limit int) *boundedBuffer {
	return &boundedBuffer{limit: limit}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.limit - len(b.buf)
	if room > 0 {
		if len(p) <= room {
			b.buf = append(b.buf, p...)
		} else {
			b.buf = append(b.buf, p[:room]...)
			b.truncated = true
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	// Always report full consumption so the writing process is not broken
	// by the cap.
	return len(p), nil
}

func (b *boundedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf...)
}

func (b *boundedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
