package docker

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/modelcell/envman/internal/runtime"
)

// Copies a host file or directory into a container.
//
// Shells out to "docker cp": the Engine API has no direct copy
// primitive, and the CLI already handles archive framing and ownership.
func (rt *Runtime) CopyToContainer(ctx context.Context, hostPath, containerName, containerPath string) error {
	return rt.runCLI(ctx, "cp", hostPath, containerName+":"+containerPath)
}

// Copies a file or directory out of a container to the host.
func (rt *Runtime) CopyFromContainer(ctx context.Context, containerName, containerPath, hostPath string) error {
	return rt.runCLI(ctx, "cp", containerName+":"+containerPath, hostPath)
}

// Runs the docker CLI binary with the given arguments.
func (rt *Runtime) runCLI(ctx context.Context, args ...string) error {
	slog.Debug("running docker CLI", "args", args)

	out, err := exec.CommandContext(ctx, rt.binary, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s %v: %v: %s", runtime.ErrRuntime, rt.binary, args, err, out)
	}
	return nil
}
