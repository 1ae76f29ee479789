package docker

import (
	"bytes"
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/modelcell/envman/internal/runtime"
)

// Runs a command inside a running container and waits for it to exit.
//
// The command is executed directly, without shell wrapping. Output is
// demultiplexed from the attach stream with stdout and stderr
// interleaved into a single buffer, matching what an operator would see
// in a terminal. A non-zero exit code is reported in the result, not as
// an error.
func (rt *Runtime) Exec(ctx context.Context, containerID string, opts runtime.ExecOptions) (*runtime.ExecResult, error) {
	created, err := rt.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		User:         opts.Identity.Name(),
		Cmd:          opts.Cmd,
		WorkingDir:   opts.Workdir,
		Env:          envSlice(opts.Env),
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, wrapAPIError(err)
	}

	attach, err := rt.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, wrapAPIError(err)
	}
	defer attach.Close()

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, attach.Reader); err != nil {
		return nil, fmt.Errorf("%w: reading exec output: %v", runtime.ErrRuntime, err)
	}

	inspect, err := rt.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, wrapAPIError(err)
	}

	return &runtime.ExecResult{
		Output:   out.Bytes(),
		ExitCode: inspect.ExitCode,
	}, nil
}
