package toolchain

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

// containerWorkDir is where the job's working directory is mounted inside
// the container. It is the container's only writable path: the root
// filesystem is read-only, so the platform itself enforces the sandbox.
const containerWorkDir = "/work"

// DockerInvoker runs job processes inside a container with the working
// directory bind-mounted as the only writable path.
type DockerInvoker struct {
	cli         *client.Client
	image       string
	outputLimit int
}

// NewDockerInvoker creates a container-based invoker. The image must carry
// the toolchain binaries (compiler, interpreter) the adapters will invoke.
func NewDockerInvoker(img string, outputLimit int) (*DockerInvoker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	if outputLimit <= 0 {
		outputLimit = DefaultOutputLimit
	}
	return &DockerInvoker{cli: cli, image: img, outputLimit: outputLimit}, nil
}

// LookPath resolves a binary inside the toolchain image by running the
// shell builtin `command -v`.
func (d *DockerInvoker) LookPath(name string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := d.run(ctx, Invocation{Argv: []string{"/bin/sh", "-c", "command -v " + name}}, false)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("%s not found in image %s", name, d.image)
	}
	path := string(res.Output)
	for len(path) > 0 && (path[len(path)-1] == '\n' || path[len(path)-1] == '\r') {
		path = path[:len(path)-1]
	}
	return path, nil
}

// Run executes the process in a fresh container, mounting inv.Dir at the
// container working directory.
func (d *DockerInvoker) Run(ctx context.Context, inv Invocation) (*ProcessResult, error) {
	if len(inv.Argv) == 0 {
		return nil, fmt.Errorf("command is required")
	}
	return d.run(ctx, inv, true)
}

func (d *DockerInvoker) run(ctx context.Context, inv Invocation, mountWork bool) (*ProcessResult, error) {
	// Check if the image exists locally first to save time.
	if _, err := d.cli.ImageInspect(ctx, d.image); err != nil {
		reader, err := d.cli.ImagePull(ctx, d.image, image.PullOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to pull image %s: %w", d.image, err)
		}
		defer reader.Close()
		io.Copy(io.Discard, reader)
	}

	containerConfig := &container.Config{
		Image:      d.image,
		Cmd:        inv.Argv,
		Env:        mergeEnv(nil, inv.Env),
		WorkingDir: containerWorkDir,
		Tty:        true,
	}
	hostConfig := &container.HostConfig{
		ReadonlyRootfs: true,
		NetworkMode:    "none",
		Tmpfs:          map[string]string{"/tmp": "rw,size=64m"},
	}
	if mountWork && inv.Dir != "" {
		hostConfig.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: inv.Dir,
			Target: containerWorkDir,
		}}
	}

	created, err := d.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	defer func() {
		// Best-effort cleanup; never block on the caller's context.
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		d.cli.ContainerRemove(rmCtx, created.ID, container.RemoveOptions{Force: true})
	}()

	start := time.Now()
	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	statusCh, errCh := d.cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)

	var exitCode int
	select {
	case err := <-errCh:
		return nil, err
	case status := <-statusCh:
		if status.Error != nil {
			return nil, fmt.Errorf("%s", status.Error.Message)
		}
		exitCode = int(status.StatusCode)
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		timeout := 0
		d.cli.ContainerStop(stopCtx, created.ID, container.StopOptions{Timeout: &timeout})
		out, _ := d.fetchLogs(stopCtx, created.ID)
		return &ProcessResult{
			ExitCode: -1,
			Output:   out,
			Duration: time.Since(start),
		}, ctx.Err()
	}

	out, err := d.fetchLogs(ctx, created.ID)
	if err != nil {
		return nil, err
	}

	truncated := false
	if len(out) > d.outputLimit {
		out = out[:d.outputLimit]
		truncated = true
	}
	return &ProcessResult{
		ExitCode:  exitCode,
		Output:    out,
		Truncated: truncated,
		Duration:  time.Since(start),
	}, nil
}

func (d *DockerInvoker) fetchLogs(ctx context.Context, containerID string) ([]byte, error) {
	rc, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch container logs: %w", err)
	}
	defer rc.Close()

	// Tty is enabled, so the stream is plain bytes rather than multiplexed.
	return io.ReadAll(io.LimitReader(rc, int64(d.outputLimit)+1))
}
