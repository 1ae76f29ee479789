package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcell/envman/internal/naming"
	"github.com/modelcell/envman/internal/paths"
	"github.com/modelcell/envman/internal/runtime"
)

// Lifecycle state of a session.
type State string

const (
	StateUninitialized     State = "uninitialized"
	StateImageResolved     State = "image_resolved"
	StateContainerResolved State = "container_resolved"
	StateProvisioned       State = "provisioned"
	StateActive            State = "active"
	StateStopped           State = "stopped"
	StateRemoved           State = "removed"
)

// Orchestrates one managed environment over a container runtime.
//
// Not safe for concurrent use; a session belongs to a single invocation.
type Session struct {
	rt       runtime.Runtime
	resolver *paths.Resolver
	cfg      Config
	mounts   paths.MountTable

	state     State
	image     *runtime.Image
	container *runtime.Container
}

// Creates a session after validating the configuration and resolving
// the mount table's host sides against the local filesystem layout.
func New(rt runtime.Runtime, resolver *paths.Resolver, cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Session{
		rt:       rt,
		resolver: resolver,
		cfg:      cfg,
		mounts:   cfg.Container.Mounts.Resolve(resolver),
		state:    StateUninitialized,
	}, nil
}

func (s *Session) State() State { return s.state }

// Returns the resolved image descriptor, nil before resolution or when
// no matching image exists.
func (s *Session) Image() *runtime.Image { return s.image }

// Returns the resolved container descriptor, nil before resolution or
// when no managed container exists.
func (s *Session) Container() *runtime.Container { return s.container }

// Returns the resolved mount table used for containers and for mapping
// local package paths.
func (s *Session) Mounts() paths.MountTable { return s.mounts }

// Resolves the current image and the latest managed container.
//
// A missing image or container is not an error: the corresponding
// descriptor stays nil and the caller decides whether to build or
// create.
func (s *Session) Resolve(ctx context.Context) error {
	img, err := s.rt.FindImage(ctx, s.cfg.Image.Repo)
	if err != nil {
		return err
	}
	s.image = img
	s.state = StateImageResolved

	containers, err := s.rt.ListContainers(ctx, true)
	if err != nil {
		return err
	}
	s.container = naming.SelectLatest(ctx, containers, s.cfg.Container.NameFormat, s.readTime)
	s.state = StateContainerResolved

	slog.Debug("session resolved",
		"image", s.imageRef(),
		"container", containerLabel(s.container))
	return nil
}

// Creates and starts a fresh managed container.
//
// The helper network and its auxiliary containers are brought up first.
// The container runs as the unprivileged container user with the
// resolved mount table attached.
func (s *Session) Create(ctx context.Context) (*runtime.Container, error) {
	if s.state == StateUninitialized {
		if err := s.Resolve(ctx); err != nil {
			return nil, err
		}
	}

	if err := s.ensureNetwork(ctx); err != nil {
		return nil, err
	}

	name := naming.NameFor(time.Now(), s.cfg.Container.NameFormat)
	ctr, err := s.rt.RunContainer(ctx, runtime.RunOptions{
		Image:    s.imageRef(),
		Name:     name,
		Mounts:   s.mounts,
		Env:      s.cfg.Container.Env,
		Ports:    s.cfg.Container.Ports,
		Network:  s.cfg.Network.Name,
		Command:  []string{"bash"},
		TTY:      true,
		Identity: runtime.ContainerUser,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("container created", "name", name, "image", s.imageRef())
	s.container = ctr
	s.state = StateContainerResolved
	return ctr, nil
}

// Runs a command in the session's container.
//
// Relative working directories are resolved on the host and mapped
// through the mount table, so "run the tests here" works from any
// mounted checkout.
func (s *Session) Exec(ctx context.Context, cmd []string, workdir string, id runtime.Identity) (*runtime.ExecResult, error) {
	if s.container == nil {
		return nil, fmt.Errorf("%w: no container to run in", ErrConfiguration)
	}
	if !id.Valid() {
		return nil, fmt.Errorf("%w: execution identity must be set", ErrConfiguration)
	}

	containerDir := ""
	if workdir != "" {
		var err error
		containerDir, err = s.mounts.HostToContainer(s.resolver, workdir)
		if err != nil {
			return nil, err
		}
	}

	res, err := s.rt.Exec(ctx, s.container.ID, runtime.ExecOptions{
		Cmd:      cmd,
		Workdir:  containerDir,
		Identity: id,
	})
	if err != nil {
		return nil, err
	}
	s.state = StateActive
	return res, nil
}

// Stops the session's container.
func (s *Session) Stop(ctx context.Context) error {
	if s.container == nil {
		return fmt.Errorf("%w: no container to stop", ErrConfiguration)
	}
	if err := s.rt.StopContainer(ctx, s.container.ID); err != nil {
		return err
	}
	s.state = StateStopped
	return nil
}

// Stops and removes the session's container.
//
// With force set the stop is skipped and the runtime removes the
// container in whatever state it is in.
func (s *Session) Teardown(ctx context.Context, force bool) error {
	if s.container == nil {
		return fmt.Errorf("%w: no container to remove", ErrConfiguration)
	}

	if !force {
		if err := s.rt.StopContainer(ctx, s.container.ID); err != nil {
			return err
		}
	}
	if err := s.rt.RemoveContainer(ctx, s.container.ID, force); err != nil {
		return err
	}

	slog.Info("container removed", "name", s.container.Name)
	s.container = nil
	s.state = StateRemoved
	return nil
}

// Removes every container whose name matches the managed format.
func (s *Session) RemoveAll(ctx context.Context, force bool) (int, error) {
	containers, err := s.rt.ListContainers(ctx, true)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, c := range containers {
		if !naming.IsManaged(c.Name, s.cfg.Container.NameFormat) {
			continue
		}
		if !force {
			if err := s.rt.StopContainer(ctx, c.ID); err != nil {
				return removed, err
			}
		}
		if err := s.rt.RemoveContainer(ctx, c.ID, force); err != nil {
			return removed, err
		}
		slog.Info("container removed", "name", c.Name)
		removed++
	}

	s.container = nil
	s.state = StateRemoved
	return removed, nil
}

// Lists the managed containers in listing order; callers sort as
// needed. The runtime's listing is left untouched.
func (s *Session) ListManaged(ctx context.Context, all bool) ([]runtime.Container, error) {
	containers, err := s.rt.ListContainers(ctx, all)
	if err != nil {
		return nil, err
	}

	managed := make([]runtime.Container, 0, len(containers))
	for _, c := range containers {
		if naming.IsManaged(c.Name, s.cfg.Container.NameFormat) {
			managed = append(managed, c)
		}
	}
	return managed, nil
}

// Removes the helper network. Auxiliary containers must be gone first;
// the runtime rejects removal of a network with attached endpoints.
func (s *Session) RemoveNetwork(ctx context.Context) error {
	if s.cfg.Network.Name == "" {
		return nil
	}
	return s.rt.RemoveNetwork(ctx, s.cfg.Network.Name)
}

// Creates the helper network and starts any auxiliary containers that
// are not already present.
func (s *Session) ensureNetwork(ctx context.Context) error {
	if s.cfg.Network.Name == "" {
		return nil
	}
	if err := s.rt.EnsureNetwork(ctx, s.cfg.Network.Name); err != nil {
		return err
	}

	if len(s.cfg.Network.Containers) == 0 {
		return nil
	}

	existing, err := s.rt.ListContainers(ctx, true)
	if err != nil {
		return err
	}
	byName := make(map[string]bool, len(existing))
	for _, c := range existing {
		byName[c.Name] = true
	}

	for _, aux := range s.cfg.Network.Containers {
		if byName[aux.Name] {
			continue
		}
		_, err := s.rt.RunContainer(ctx, runtime.RunOptions{
			Image:         aux.Image,
			Name:          aux.Name,
			Env:           aux.Env,
			Network:       s.cfg.Network.Name,
			Identity:      runtime.Root,
			RestartAlways: true,
			ShmSize:       aux.ShmSize,
		})
		if err != nil {
			return err
		}
		slog.Info("auxiliary container started", "name", aux.Name, "network", s.cfg.Network.Name)
	}
	return nil
}

// Reads the sample timestamp of a container's live statistics.
func (s *Session) readTime(ctx context.Context, containerID string) (time.Time, error) {
	stats, err := s.rt.Stats(ctx, containerID)
	if err != nil {
		return time.Time{}, err
	}
	return stats.Read, nil
}

// Returns the reference to run containers from: the resolved image's
// canonical reference when one exists, otherwise the configured
// repo:tag.
func (s *Session) imageRef() string {
	if s.image != nil {
		return s.image.Ref()
	}
	return s.cfg.Image.Repo + ":" + s.cfg.Image.Tags[0]
}

func containerLabel(c *runtime.Container) string {
	if c == nil {
		return "<none>"
	}
	return c.Name
}
