package runtime

import (
	"context"
	"time"

	"github.com/modelcell/envman/internal/paths"
)

// Lifecycle status of a container.
type Status string

const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusRemoved Status = "removed"
)

// Describes an image known to the runtime.
//
// Tags do not mutate in place on a descriptor: after tagging, callers
// must re-query by repo to observe the new tag set. The first tag is
// treated as canonical.
type Image struct {
	ID   string
	Repo string
	Tags []string
}

// Returns the canonical "repo:tag" reference, or the bare repo when the
// image carries no tags.
func (i Image) Ref() string {
	if len(i.Tags) == 0 {
		return i.Repo
	}
	return i.Repo + ":" + i.Tags[0]
}

// Describes a container known to the runtime.
type Container struct {
	ID        string
	Name      string
	ImageRef  string
	CreatedAt time.Time
	Status    Status
}

// One-shot resource statistics for a running container.
//
// Read is the runtime-reported time at which the sample was taken; it is
// the authoritative ordering key for "most recently used" selection.
type Stats struct {
	Read        time.Time
	CPUTotal    uint64
	MemoryUsage uint64
	MemoryLimit uint64
	NetworkRx   uint64
	NetworkTx   uint64
	IORead      uint64
	IOWrite     uint64
}

// Controls an image build.
type BuildOptions struct {
	ContextDir string            // Directory sent to the daemon as build context.
	Dockerfile string            // Dockerfile name relative to ContextDir.
	Tags       []string          // Full repo:tag references applied to the result.
	BuildArgs  map[string]string // Build arguments for the Dockerfile.
	Pull       bool              // Pull the latest base image before building.
}

// Controls container creation.
type RunOptions struct {
	Image    string            // Image reference to run.
	Name     string            // Container name.
	Mounts   paths.MountTable  // Host directories bound into the container.
	Env      map[string]string // Environment variables.
	Ports    map[string]int    // Container port spec ("8888/tcp") to host port.
	Network  string            // Network to attach, if any.
	Command  []string          // Command to run; the image entrypoint is cleared.
	TTY      bool              // Allocate a pseudo-TTY.
	Identity Identity          // Execution identity of the main process.

	// Auxiliary-container knobs (helper network members).
	RestartAlways bool  // Restart the container whenever it stops.
	ShmSize       int64 // /dev/shm size in bytes; 0 for the daemon default.
}

// Controls command execution inside a container.
type ExecOptions struct {
	Cmd      []string          // Command and arguments, run without shell wrapping.
	Workdir  string            // Working directory inside the container.
	Env      map[string]string // Extra environment variables.
	Identity Identity          // Execution identity.
}

// Result of a command execution inside a container.
type ExecResult struct {
	Output   []byte // Combined stdout and stderr.
	ExitCode int    // Exit code of the process.
}

// The capability set a container runtime must provide.
//
// All calls are blocking round trips to the daemon. A non-zero exit code
// from Exec is reported in the result, never as an error; the caller
// decides how to treat it.
type Runtime interface {

	// Looks up the most recent image of a repository. Returns nil
	// without error when the repository has no image.
	FindImage(ctx context.Context, repo string) (*Image, error)

	// Builds an image and returns its descriptor and the build log.
	// Failures distinguish [ErrUnavailable], [ErrBuildSpec], and
	// [ErrBuildExecution].
	BuildImage(ctx context.Context, opts BuildOptions) (*Image, string, error)

	// Applies an additional repo:tag reference to an image.
	TagImage(ctx context.Context, imageID, repo, tag string) error

	// Pulls repo:tag from its registry.
	PullImage(ctx context.Context, repo, tag string) (*Image, error)

	// Pushes repo:tag to its registry.
	PushImage(ctx context.Context, repo, tag string) error

	// Removes the repo:tag reference, deleting the image when it was
	// the last reference. Force removes even when containers use it.
	RemoveImage(ctx context.Context, repo, tag string, force bool) error

	// Authenticates against the image registry.
	Login(ctx context.Context, username, password string) error

	// Lists containers; all includes stopped ones.
	ListContainers(ctx context.Context, all bool) ([]Container, error)

	// Creates and starts a detached container.
	RunContainer(ctx context.Context, opts RunOptions) (*Container, error)

	// Runs a command inside a running container and waits for it.
	Exec(ctx context.Context, containerID string, opts ExecOptions) (*ExecResult, error)

	// Takes a one-shot statistics sample of a container.
	Stats(ctx context.Context, containerID string) (*Stats, error)

	// Stops a running container.
	StopContainer(ctx context.Context, containerID string) error

	// Removes a container; force removes a running one.
	RemoveContainer(ctx context.Context, containerID string, force bool) error

	// Copies a host file or directory into a container. Implemented
	// out of band (CLI subprocess), not via Exec.
	CopyToContainer(ctx context.Context, hostPath, containerName, containerPath string) error

	// Copies a file or directory out of a container to the host.
	CopyFromContainer(ctx context.Context, containerName, containerPath, hostPath string) error

	// Creates the named network when it does not already exist.
	EnsureNetwork(ctx context.Context, name string) error

	// Removes the named network; absent networks are not an error.
	RemoveNetwork(ctx context.Context, name string) error
}
