// Package credentials probes for credential files needed inside a
// container (SSH keys, registry passwords, access tokens).
//
// Lookup degrades silently: a missing, unreadable, or unconfigured file
// yields an absent [Ref] rather than an error. Absence only becomes an
// error when an operation that requires credentials finds every
// candidate absent, via [RequireAny].
package credentials

import (
	"errors"
	"os"
)

// Reported when an operation requires credentials and none are available.
var ErrMissingCredentials = errors.New("no credentials available")

// A reference to a credential file that may or may not be usable.
//
// The zero value is absent.
type Ref struct {
	path string
}

// Whether the credential file exists and is readable.
func (r Ref) Present() bool {
	return r.path != ""
}

// Returns the usable path, or "" when absent.
func (r Ref) Path() string {
	return r.path
}

// Probes a credential file path.
//
// Returns a present ref only when path names an existing regular file
// that can be opened for reading. Empty paths, missing files, directories,
// and permission errors all yield an absent ref; none of these raise.
func Check(path string) Ref {
	if path == "" {
		return Ref{}
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return Ref{}
	}

	f, err := os.Open(path)
	if err != nil {
		return Ref{}
	}
	f.Close()

	return Ref{path: path}
}

// Fails with [ErrMissingCredentials] when every supplied ref is absent.
//
// Called once at session setup when an operation makes credentials
// mandatory; optional flows never call it.
func RequireAny(refs ...Ref) error {
	for _, r := range refs {
		if r.Present() {
			return nil
		}
	}
	return ErrMissingCredentials
}
