package docker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/distribution/reference"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/moby/go-archive"

	"github.com/modelcell/envman/internal/runtime"
)

// Name of the CLI binary used for out-of-band operations.
const defaultBinary = "docker"

// Manages the Docker Engine client and implements the runtime
// capability set.
type Runtime struct {
	cli    *client.Client // Engine API client.
	binary string         // CLI binary for out-of-band copy.
	auth   string         // Encoded registry auth from the last Login.
}

// The interface the session layer depends on.
var _ runtime.Runtime = (*Runtime)(nil)

// Creates a runtime connected to the Docker daemon configured in the
// environment.
//
// The client negotiates the API version with the daemon. The runtime
// must be closed when no longer needed.
func New() (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", runtime.ErrUnavailable, err)
	}
	return &Runtime{cli: cli, binary: defaultBinary}, nil
}

// Closes the client connection.
func (rt *Runtime) Close() error {
	return rt.cli.Close()
}

// Looks up the most recent image of a repository.
//
// Returns nil without error when the repository has no image. Tags are
// sorted so the descriptor's canonical tag is stable across calls.
func (rt *Runtime) FindImage(ctx context.Context, repo string) (*runtime.Image, error) {
	list, err := rt.cli.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", repo)),
	})
	if err != nil {
		return nil, wrapAPIError(err)
	}
	if len(list) == 0 {
		return nil, nil
	}

	// The daemon returns newest first.
	return imageDescriptor(repo, list[0].ID, list[0].RepoTags), nil
}

// Builds an image from a context directory and applies the given tags.
//
// The context is streamed to the daemon as a tar archive. The returned
// log is the concatenated build output. Errors distinguish an
// unreachable daemon, a rejected build specification, and a failure
// during build execution.
func (rt *Runtime) BuildImage(ctx context.Context, opts runtime.BuildOptions) (*runtime.Image, string, error) {
	buildCtx, err := archive.TarWithOptions(opts.ContextDir, &archive.TarOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", runtime.ErrBuildSpec, err)
	}
	defer buildCtx.Close()

	resp, err := rt.cli.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:       opts.Tags,
		Dockerfile: opts.Dockerfile,
		BuildArgs:  buildArgPointers(opts.BuildArgs),
		PullParent: opts.Pull,
		Remove:     true,
	})
	if err != nil {
		if client.IsErrConnectionFailed(err) {
			return nil, "", fmt.Errorf("%w: %v", runtime.ErrUnavailable, err)
		}
		return nil, "", fmt.Errorf("%w: %v", runtime.ErrBuildSpec, err)
	}
	defer resp.Body.Close()

	log, err := drainMessages(resp.Body)
	if err != nil {
		return nil, log, fmt.Errorf("%w: %v", runtime.ErrBuildExecution, err)
	}

	// Tags are applied by the daemon; re-query so the descriptor
	// reflects the tagged result.
	repo, _, err := splitRef(opts.Tags[0])
	if err != nil {
		return nil, log, fmt.Errorf("%w: %v", runtime.ErrBuildSpec, err)
	}

	img, err := rt.FindImage(ctx, repo)
	if err != nil {
		return nil, log, err
	}
	if img == nil {
		return nil, log, fmt.Errorf("%w: built image %s not found", runtime.ErrBuildExecution, opts.Tags[0])
	}

	slog.Debug("image built", "repo", repo, "id", img.ID)
	return img, log, nil
}

// Applies an additional repo:tag reference to an image.
func (rt *Runtime) TagImage(ctx context.Context, imageID, repo, tag string) error {
	if err := rt.cli.ImageTag(ctx, imageID, repo+":"+tag); err != nil {
		return wrapAPIError(err)
	}
	return nil
}

// Pulls repo:tag from its registry and returns the resulting image.
func (rt *Runtime) PullImage(ctx context.Context, repo, tag string) (*runtime.Image, error) {
	rc, err := rt.cli.ImagePull(ctx, repo+":"+tag, image.PullOptions{RegistryAuth: rt.auth})
	if err != nil {
		return nil, wrapAPIError(err)
	}
	defer rc.Close()

	if _, err := drainMessages(rc); err != nil {
		return nil, fmt.Errorf("%w: %v", runtime.ErrRuntime, err)
	}

	img, err := rt.FindImage(ctx, repo)
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, fmt.Errorf("%w: pulled image %s:%s not found", runtime.ErrRuntime, repo, tag)
	}

	slog.Debug("image pulled", "repo", repo, "tag", tag)
	return img, nil
}

// Pushes repo:tag to its registry.
//
// The push stream is scanned for per-layer errors; any error aborts and
// is surfaced with the full set of messages collected so far.
func (rt *Runtime) PushImage(ctx context.Context, repo, tag string) error {
	auth := rt.auth
	if auth == "" {
		// The API requires the header even for anonymous pushes.
		var err error
		if auth, err = encodeAuth(registry.AuthConfig{}); err != nil {
			return fmt.Errorf("%w: %v", runtime.ErrRuntime, err)
		}
	}

	rc, err := rt.cli.ImagePush(ctx, repo+":"+tag, image.PushOptions{RegistryAuth: auth})
	if err != nil {
		return wrapAPIError(err)
	}
	defer rc.Close()

	if _, err := drainMessages(rc); err != nil {
		return fmt.Errorf("%w: push %s:%s failed: %v", runtime.ErrRuntime, repo, tag, err)
	}

	slog.Debug("image pushed", "repo", repo, "tag", tag)
	return nil
}

// Removes the repo:tag reference.
func (rt *Runtime) RemoveImage(ctx context.Context, repo, tag string, force bool) error {
	if _, err := rt.cli.ImageRemove(ctx, repo+":"+tag, image.RemoveOptions{Force: force}); err != nil {
		return wrapAPIError(err)
	}
	return nil
}

// Authenticates against the registry and retains the encoded
// credentials for subsequent pull and push calls.
func (rt *Runtime) Login(ctx context.Context, username, password string) error {
	auth := registry.AuthConfig{Username: username, Password: password}

	if _, err := rt.cli.RegistryLogin(ctx, auth); err != nil {
		return wrapAPIError(err)
	}

	encoded, err := encodeAuth(auth)
	if err != nil {
		return fmt.Errorf("%w: %v", runtime.ErrRuntime, err)
	}
	rt.auth = encoded

	slog.Debug("registry login", "username", username)
	return nil
}

// Maps an Engine API error onto the runtime error taxonomy.
func wrapAPIError(err error) error {
	if client.IsErrConnectionFailed(err) {
		return fmt.Errorf("%w: %v", runtime.ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %v", runtime.ErrRuntime, err)
}

// Consumes a JSON message stream from the daemon, returning the
// concatenated progress output. An error entry in the stream aborts and
// is returned as an error.
func drainMessages(r io.Reader) (string, error) {
	var log strings.Builder

	dec := json.NewDecoder(r)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				return log.String(), nil
			}
			return log.String(), err
		}

		if msg.Error != nil {
			return log.String(), msg.Error
		}
		if msg.Stream != "" {
			log.WriteString(msg.Stream)
		} else if msg.Status != "" {
			log.WriteString(msg.Status)
			log.WriteString("\n")
		}
	}
}

// Converts build arguments to the pointer map the Engine API expects.
func buildArgPointers(args map[string]string) map[string]*string {
	out := make(map[string]*string, len(args))
	for k, v := range args {
		out[k] = &v
	}
	return out
}

// Splits a repo:tag reference, normalizing the repository name.
func splitRef(ref string) (repo, tag string, err error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", "", err
	}

	repo = reference.FamiliarName(named)
	if tagged, ok := named.(reference.Tagged); ok {
		tag = tagged.Tag()
	}
	return repo, tag, nil
}

// Builds an image descriptor from a daemon listing entry.
//
// Only tags belonging to repo are kept; tags under other repositories
// applied to the same image are not this descriptor's concern.
func imageDescriptor(repo, id string, repoTags []string) *runtime.Image {
	var tags []string
	for _, rt := range repoTags {
		r, tag, err := splitRef(rt)
		if err != nil || r != repo || tag == "" {
			continue
		}
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	return &runtime.Image{ID: id, Repo: repo, Tags: tags}
}

// Encodes registry credentials for the X-Registry-Auth header.
func encodeAuth(auth registry.AuthConfig) (string, error) {
	buf, err := json.Marshal(auth)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}
