package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/modelcell/envman/internal/paths"
	"github.com/modelcell/envman/internal/runtime"
)

// Lists containers known to the daemon.
func (rt *Runtime) ListContainers(ctx context.Context, all bool) ([]runtime.Container, error) {
	list, err := rt.cli.ContainerList(ctx, container.ListOptions{All: all})
	if err != nil {
		return nil, wrapAPIError(err)
	}

	out := make([]runtime.Container, 0, len(list))
	for _, c := range list {
		out = append(out, runtime.Container{
			ID:        c.ID,
			Name:      containerName(c.Names),
			ImageRef:  c.Image,
			CreatedAt: time.Unix(c.Created, 0),
			Status:    statusFromState(string(c.State)),
		})
	}
	return out, nil
}

// Creates and starts a detached container.
//
// The image entrypoint is cleared so the configured command runs
// directly. Mount modes follow the mount table; everything else comes
// from the options.
func (rt *Runtime) RunContainer(ctx context.Context, opts runtime.RunOptions) (*runtime.Container, error) {
	exposed, bindings, err := portBindings(opts.Ports)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", runtime.ErrRuntime, err)
	}

	cfg := &container.Config{
		Image:        opts.Image,
		Cmd:          strslice.StrSlice(opts.Command),
		Entrypoint:   strslice.StrSlice{},
		Env:          envSlice(opts.Env),
		User:         opts.Identity.Name(),
		Tty:          opts.TTY,
		OpenStdin:    true,
		ExposedPorts: exposed,
	}

	hostCfg := &container.HostConfig{
		Mounts:       bindMounts(opts.Mounts),
		PortBindings: bindings,
		NetworkMode:  container.NetworkMode(opts.Network),
		ShmSize:      opts.ShmSize,
	}
	if opts.RestartAlways {
		hostCfg.RestartPolicy = container.RestartPolicy{Name: container.RestartPolicyAlways}
	}

	created, err := rt.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, opts.Name)
	if err != nil {
		return nil, wrapAPIError(err)
	}

	if err := rt.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, wrapAPIError(err)
	}

	slog.Debug("container started", "name", opts.Name, "image", opts.Image, "user", opts.Identity.Name())

	return &runtime.Container{
		ID:        created.ID,
		Name:      opts.Name,
		ImageRef:  opts.Image,
		CreatedAt: time.Now(),
		Status:    runtime.StatusRunning,
	}, nil
}

// Takes a one-shot statistics sample of a container.
func (rt *Runtime) Stats(ctx context.Context, containerID string) (*runtime.Stats, error) {
	resp, err := rt.cli.ContainerStatsOneShot(ctx, containerID)
	if err != nil {
		return nil, wrapAPIError(err)
	}
	defer resp.Body.Close()

	var raw container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decoding stats: %v", runtime.ErrRuntime, err)
	}

	stats := &runtime.Stats{
		Read:        raw.Read,
		CPUTotal:    raw.CPUStats.CPUUsage.TotalUsage,
		MemoryUsage: raw.MemoryStats.Usage,
		MemoryLimit: raw.MemoryStats.Limit,
	}
	for _, nw := range raw.Networks {
		stats.NetworkRx += nw.RxBytes
		stats.NetworkTx += nw.TxBytes
	}
	for _, entry := range raw.BlkioStats.IoServiceBytesRecursive {
		switch strings.ToLower(entry.Op) {
		case "read":
			stats.IORead += entry.Value
		case "write":
			stats.IOWrite += entry.Value
		}
	}
	return stats, nil
}

// Stops a running container.
func (rt *Runtime) StopContainer(ctx context.Context, containerID string) error {
	if err := rt.cli.ContainerStop(ctx, containerID, container.StopOptions{}); err != nil {
		return wrapAPIError(err)
	}
	return nil
}

// Removes a container; force removes a running one.
func (rt *Runtime) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	if err := rt.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force}); err != nil {
		return wrapAPIError(err)
	}
	return nil
}

// Creates the named network when it does not already exist.
func (rt *Runtime) EnsureNetwork(ctx context.Context, name string) error {
	if _, err := rt.cli.NetworkInspect(ctx, name, network.InspectOptions{}); err == nil {
		return nil
	} else if !client.IsErrNotFound(err) {
		return wrapAPIError(err)
	}

	if _, err := rt.cli.NetworkCreate(ctx, name, network.CreateOptions{}); err != nil {
		return wrapAPIError(err)
	}

	slog.Debug("network created", "name", name)
	return nil
}

// Removes the named network. Absent networks are not an error.
func (rt *Runtime) RemoveNetwork(ctx context.Context, name string) error {
	if err := rt.cli.NetworkRemove(ctx, name); err != nil && !client.IsErrNotFound(err) {
		return wrapAPIError(err)
	}
	return nil
}

// Returns the primary name of a listing entry without the leading slash.
func containerName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}

// Maps a daemon container state onto the descriptor status.
func statusFromState(state string) runtime.Status {
	switch state {
	case "created":
		return runtime.StatusCreated
	case "running", "restarting", "paused":
		return runtime.StatusRunning
	case "removing":
		return runtime.StatusRemoved
	default:
		return runtime.StatusStopped
	}
}

// Converts the mount table to Engine API bind mounts.
func bindMounts(table paths.MountTable) []mount.Mount {
	mounts := make([]mount.Mount, 0, len(table))
	for _, m := range table {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Host,
			Target:   m.Container,
			ReadOnly: m.Mode == paths.ModeReadOnly,
		})
	}
	return mounts
}

// Builds the exposed port set and host bindings from a port spec map.
func portBindings(ports map[string]int) (nat.PortSet, nat.PortMap, error) {
	if len(ports) == 0 {
		return nil, nil, nil
	}

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for spec, hostPort := range ports {
		proto, port := nat.SplitProtoPort(spec)
		p, err := nat.NewPort(proto, port)
		if err != nil {
			return nil, nil, err
		}
		exposed[p] = struct{}{}
		bindings[p] = []nat.PortBinding{{HostPort: strconv.Itoa(hostPort)}}
	}
	return exposed, bindings, nil
}

// Formats an environment map as "key=value" entries in stable order.
func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
