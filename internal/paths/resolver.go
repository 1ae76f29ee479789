package paths

import (
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
)

// Normalizes host-side paths against a fixed home and working directory.
//
// Both directories are captured at construction, so ResolveLocal is a pure
// function of (path, home, cwd) and can be exercised without touching the
// real environment.
type Resolver struct {
	home string // Absolute path to the home directory.
	cwd  string // Absolute path to the working directory.
}

// Creates a resolver bound to the current user's home and working directory.
func NewResolver() (*Resolver, error) {
	home, err := homedir.Dir()
	if err != nil {
		return nil, err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	return ResolverAt(home, cwd), nil
}

// Creates a resolver with explicit home and working directories.
func ResolverAt(home, cwd string) *Resolver {
	return &Resolver{home: home, cwd: cwd}
}

// Resolves a host path to canonical absolute form.
//
// A leading "~" or "~/" is expanded to the home directory, relative paths
// are joined with the working directory, and "." / ".." segments are
// eliminated. The filesystem is never consulted.
func (r *Resolver) ResolveLocal(path string) string {
	switch {
	case path == "~":
		path = r.home
	case strings.HasPrefix(path, "~/"):
		path = filepath.Join(r.home, path[2:])
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(r.cwd, path)
	}

	return filepath.Clean(path)
}

// Returns the home directory the resolver was constructed with.
func (r *Resolver) Home() string {
	return r.home
}
