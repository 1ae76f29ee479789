package runtime

import "errors"

var (
	// The daemon cannot be reached. Fatal; this layer never retries.
	ErrUnavailable = errors.New("container runtime unavailable")

	// The build specification was rejected before execution started
	// (e.g. a Dockerfile syntax error).
	ErrBuildSpec = errors.New("invalid build specification")

	// The build started but a build step failed.
	ErrBuildExecution = errors.New("image build failed")

	// Any other runtime API failure.
	ErrRuntime = errors.New("runtime error")
)
