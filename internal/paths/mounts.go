package paths

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// Reported when a path falls outside every mount table entry.
var ErrNotMounted = errors.New("path not covered by any mount")

// Access mode of a mount.
const (
	ModeReadWrite = "rw"
	ModeReadOnly  = "ro"
)

// A single host-to-container bind mount.
//
// Both sides must be absolute once resolved. Container is the path at
// which Host becomes visible inside the container.
type Mount struct {
	Host      string `yaml:"host"`
	Container string `yaml:"container"`
	Mode      string `yaml:"mode,omitempty"`
}

// The set of bind mounts for a container.
//
// Entries are independent; overlapping host or container paths are allowed
// and resolved by longest-prefix precedence.
type MountTable []Mount

// Returns a copy of the table with every host path resolved to canonical
// absolute form.
//
// Resolving once at configuration time keeps ContainerToHost a function of
// the table alone.
func (t MountTable) Resolve(r *Resolver) MountTable {
	resolved := make(MountTable, len(t))
	for i, m := range t {
		resolved[i] = Mount{
			Host:      r.ResolveLocal(m.Host),
			Container: path.Clean(m.Container),
			Mode:      m.Mode,
		}
	}
	return resolved
}

// Translates a host path to the corresponding path inside the container.
//
// The host path is first resolved to absolute form. The entry whose host
// path is the longest directory-boundary prefix of the resolved path wins.
// Returns [ErrNotMounted] when no entry covers the path.
func (t MountTable) HostToContainer(r *Resolver, hostPath string) (string, error) {
	resolved := r.ResolveLocal(hostPath)

	best := -1
	bestLen := -1
	for i, m := range t {
		prefix := r.ResolveLocal(m.Host)
		if !underPrefix(resolved, prefix) {
			continue
		}
		if len(prefix) > bestLen {
			best, bestLen = i, len(prefix)
		}
	}

	if best < 0 {
		return "", fmt.Errorf("%w: %s", ErrNotMounted, resolved)
	}

	m := t[best]
	rest := strings.TrimPrefix(resolved[len(r.ResolveLocal(m.Host)):], "/")
	return path.Join(m.Container, rest), nil
}

// Translates a container path back to the corresponding host path.
//
// Symmetric inverse of HostToContainer: matches on the container side of
// each entry with the same longest directory-boundary prefix policy.
func (t MountTable) ContainerToHost(containerPath string) (string, error) {
	resolved := path.Clean(containerPath)

	best := -1
	bestLen := -1
	for i, m := range t {
		prefix := path.Clean(m.Container)
		if !underPrefix(resolved, prefix) {
			continue
		}
		if len(prefix) > bestLen {
			best, bestLen = i, len(prefix)
		}
	}

	if best < 0 {
		return "", fmt.Errorf("%w: %s", ErrNotMounted, resolved)
	}

	m := t[best]
	rest := strings.TrimPrefix(resolved[len(path.Clean(m.Container)):], "/")
	return path.Join(m.Host, rest), nil
}

// Whether p equals prefix or lies below it.
//
// The character after the prefix must be a separator, so "/mnt/foo" does
// not claim "/mnt/foobar".
func underPrefix(p, prefix string) bool {
	if p == prefix {
		return true
	}
	if prefix == "/" {
		return strings.HasPrefix(p, "/")
	}
	return strings.HasPrefix(p, prefix+"/")
}
