package session

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/modelcell/envman/internal/credentials"
	"github.com/modelcell/envman/internal/paths"
	"github.com/modelcell/envman/internal/runtime"
)

// Provisions the session's container.
//
// The sequence is: configuration files, declared copy paths, SSH
// material for the VCS host, the three package sets in order (registry,
// VCS, local), then the optional setup script. With upgrade set,
// existing files are overwritten, stale SSH host entries are purged,
// and installs upgrade in place; without it, a step that would clobber
// an existing destination fails with ErrAlreadyExists.
func (s *Session) Setup(ctx context.Context, upgrade bool) error {
	if s.container == nil {
		return fmt.Errorf("%w: no container to set up", ErrConfiguration)
	}

	var steps []step

	fileSteps, err := s.fileSteps(upgrade)
	if err != nil {
		return err
	}
	steps = append(steps, fileSteps...)

	sshSteps, err := s.sshSteps(upgrade)
	if err != nil {
		return err
	}
	steps = append(steps, sshSteps...)

	pkgSteps, err := s.packageSteps(upgrade)
	if err != nil {
		return err
	}
	steps = append(steps, pkgSteps...)

	if script := s.cfg.Container.SetupScript; script != "" {
		steps = append(steps, step{
			name:  "run setup script",
			group: "script",
			action: func(ctx context.Context) error {
				return s.execAs(ctx, runtime.ContainerUser, []string{"bash", "-c", script}, nil)
			},
		})
	}

	if err := runSteps(ctx, steps); err != nil {
		return err
	}

	s.state = StateProvisioned
	slog.Info("container provisioned", "name", s.container.Name, "steps", len(steps))
	return nil
}

// Builds the copy steps for configuration files and declared paths.
//
// Configuration files are the *.cfg entries of the configured host
// directory plus the third-party index mapping. A missing directory or
// index is skipped with a debug log; a malformed index is a
// configuration error.
func (s *Session) fileSteps(upgrade bool) ([]step, error) {
	var steps []step

	for _, cp := range s.configFilePairs() {
		steps = append(steps, s.copyStep("copy "+path.Base(cp.Container), cp, upgrade))
	}

	thirdParty, err := s.thirdPartyPairs()
	if err != nil {
		return nil, err
	}
	for _, cp := range thirdParty {
		steps = append(steps, s.copyStep("copy "+path.Base(cp.Container), cp, upgrade))
	}

	for _, cp := range s.cfg.Image.CopyPaths {
		resolved := CopyPath{Host: s.resolver.ResolveLocal(cp.Host), Container: cp.Container}
		steps = append(steps, s.copyStep("copy "+path.Base(cp.Container), resolved, upgrade))
	}

	if gc := s.cfg.Container.GitConfig; gc != "" {
		host := s.resolver.ResolveLocal(gc)
		if credentials.Check(host).Present() {
			cp := CopyPath{Host: host, Container: path.Join(s.cfg.Container.UserHome, ".gitconfig")}
			steps = append(steps, s.copyStep("copy .gitconfig", cp, upgrade))
		}
	}

	return steps, nil
}

// Returns the host/container pairs for the *.cfg files of the
// configuration directory, in stable order.
func (s *Session) configFilePairs() []CopyPath {
	dir := s.resolver.ResolveLocal(s.cfg.Image.ConfigDir)
	matches, err := filepath.Glob(filepath.Join(dir, "*.cfg"))
	if err != nil || len(matches) == 0 {
		slog.Debug("no configuration files to copy", "dir", dir)
		return nil
	}
	sort.Strings(matches)

	pairs := make([]CopyPath, 0, len(matches))
	for _, m := range matches {
		pairs = append(pairs, CopyPath{
			Host:      m,
			Container: path.Join(s.cfg.Image.ContainerConfigDir, filepath.Base(m)),
		})
	}
	return pairs
}

// Reads the third-party index of the configuration directory: a YAML
// mapping from a path relative to the directory to its in-container
// destination. Destinations starting with "~/" land in the container
// user's home.
func (s *Session) thirdPartyPairs() ([]CopyPath, error) {
	dir := s.resolver.ResolveLocal(s.cfg.Image.ConfigDir)
	index := paths.ThirdPartyIndex(dir)

	data, err := os.ReadFile(index)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("no third-party index, skipping", "path", index)
			return nil, nil
		}
		return nil, fmt.Errorf("%w: reading %s: %v", ErrConfiguration, index, err)
	}

	mapping := map[string]string{}
	if err := yaml.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrConfiguration, index, err)
	}

	rels := make([]string, 0, len(mapping))
	for rel := range mapping {
		rels = append(rels, rel)
	}
	sort.Strings(rels)

	pairs := make([]CopyPath, 0, len(rels))
	for _, rel := range rels {
		dest := mapping[rel]
		if strings.HasPrefix(dest, "~/") {
			dest = path.Join(s.cfg.Container.UserHome, dest[2:])
		}
		pairs = append(pairs, CopyPath{
			Host:      filepath.Join(paths.ThirdParty(dir), rel),
			Container: dest,
		})
	}
	return pairs, nil
}

// Builds the SSH provisioning steps for the VCS host.
//
// A private key is mandatory when VCS packages are configured and
// optional otherwise; without one the whole group is skipped. The final
// probe runs "ssh -T git@host", which on success refuses the shell:
// the expected outcome is exit code 1 together with an authentication
// success message, and a clean exit code 0 is not trusted.
func (s *Session) sshSteps(upgrade bool) ([]step, error) {
	keyPath := ""
	if s.cfg.Container.SSHKey != "" {
		keyPath = s.resolver.ResolveLocal(s.cfg.Container.SSHKey)
	}
	key := credentials.Check(keyPath)

	if len(s.cfg.Container.Packages.VCS) > 0 {
		if err := credentials.RequireAny(key); err != nil {
			return nil, fmt.Errorf("VCS packages configured but no usable SSH key at %q: %w", keyPath, err)
		}
	}
	if !key.Present() {
		slog.Debug("no SSH key, skipping SSH setup", "path", keyPath)
		return nil, nil
	}

	home := s.cfg.Container.UserHome
	sshDir := path.Join(home, ".ssh")
	host := s.cfg.Container.SSHHost

	steps := []step{
		{
			name:  "create " + sshDir,
			group: "ssh",
			action: func(ctx context.Context) error {
				return s.execAs(ctx, runtime.Root, []string{"mkdir", "-p", "-m", "0700", sshDir}, nil)
			},
		},
		s.copyStep("copy private key", CopyPath{Host: key.Path(), Container: path.Join(sshDir, "id_rsa")}, upgrade),
	}

	if pub := credentials.Check(key.Path() + ".pub"); pub.Present() {
		steps = append(steps,
			s.copyStep("copy public key", CopyPath{Host: pub.Path(), Container: path.Join(sshDir, "id_rsa.pub")}, upgrade))
	}

	steps = append(steps, step{
		name:  "restrict key permissions",
		group: "ssh",
		action: func(ctx context.Context) error {
			return s.execAs(ctx, runtime.Root, []string{"chmod", "0600", path.Join(sshDir, "id_rsa")}, nil)
		},
	})

	if host != "" {
		if upgrade {
			steps = append(steps, step{
				name:  "purge stale host entry",
				group: "ssh",
				action: func(ctx context.Context) error {
					// ssh-keygen -R exits non-zero when known_hosts
					// does not exist yet; that is fine on first run.
					return s.execAs(ctx, runtime.Root, []string{"ssh-keygen", "-R", host},
						func(*runtime.ExecResult) bool { return true })
				},
			})
		}
		steps = append(steps,
			step{
				name:  "install host key",
				group: "ssh",
				action: func(ctx context.Context) error {
					cmd := fmt.Sprintf("ssh-keyscan %s >> %s", host, path.Join(sshDir, "known_hosts"))
					return s.execAs(ctx, runtime.Root, []string{"bash", "-c", cmd}, nil)
				},
			},
			step{
				name:  "verify ssh access",
				group: "ssh",
				action: func(ctx context.Context) error {
					return s.execAs(ctx, runtime.Root, []string{"ssh", "-T", "git@" + host}, sshProbeOK)
				},
			})
	}

	return steps, nil
}

// Accepts the outcome of an "ssh -T" probe.
//
// The VCS host refuses an interactive shell after a successful
// handshake, so the probe exits 1 and prints an authentication success
// message. Only that pairing counts as success.
func sshProbeOK(res *runtime.ExecResult) bool {
	return res.ExitCode == 1 && bytes.Contains(res.Output, []byte("successfully authenticated"))
}

// Builds the install steps for the three package sets.
//
// Order is fixed: registry, then VCS, then local. Local entries are
// host paths mapped through the mount table and installed editable, so
// in-container edits reach the host checkout.
func (s *Session) packageSteps(upgrade bool) ([]step, error) {
	pip := "pip" + s.cfg.Image.PythonVersion

	installArgs := func(extra ...string) []string {
		args := []string{pip, "install"}
		if upgrade {
			args = append(args, "-U")
		}
		return append(args, extra...)
	}

	var steps []step
	for _, pkg := range packageList(s.cfg.Container.Packages.Registry) {
		args := installArgs(pkg)
		steps = append(steps, step{
			name:  "install " + pkg,
			group: "registry packages",
			action: func(ctx context.Context) error {
				return s.execAs(ctx, runtime.Root, args, nil)
			},
		})
	}

	for _, pkg := range packageList(s.cfg.Container.Packages.VCS) {
		args := installArgs(pkg)
		steps = append(steps, step{
			name:  "install " + pkg,
			group: "vcs packages",
			action: func(ctx context.Context) error {
				return s.execAs(ctx, runtime.Root, args, nil)
			},
		})
	}

	for _, pkg := range packageList(s.cfg.Container.Packages.Local) {
		containerPath, err := s.mounts.HostToContainer(s.resolver, pkg)
		if err != nil {
			return nil, fmt.Errorf("%w: local package %q is not under any mount: %v", ErrConfiguration, pkg, err)
		}
		args := installArgs("-e", containerPath)
		steps = append(steps, step{
			name:  "install " + pkg,
			group: "local packages",
			action: func(ctx context.Context) error {
				return s.execAs(ctx, runtime.Root, args, nil)
			},
		})
	}

	return steps, nil
}

// Filters out blank lines and comments from a package set.
func packageList(entries []string) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" || strings.HasPrefix(e, "#") {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Builds a copy step gated on the destination's existence.
func (s *Session) copyStep(name string, cp CopyPath, overwrite bool) step {
	return step{
		name:      name,
		group:     "files",
		overwrite: overwrite,
		check: func(ctx context.Context) (bool, error) {
			return s.pathExists(ctx, cp.Container)
		},
		action: func(ctx context.Context) error {
			return s.rt.CopyToContainer(ctx, cp.Host, s.container.Name, cp.Container)
		},
	}
}

// Reports whether a path exists inside the container.
func (s *Session) pathExists(ctx context.Context, containerPath string) (bool, error) {
	res, err := s.rt.Exec(ctx, s.container.ID, runtime.ExecOptions{
		Cmd:      []string{"test", "-e", containerPath},
		Identity: runtime.Root,
	})
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// Runs a command in the session's container as the given identity and
// checks the outcome. A nil predicate accepts exit code 0 only.
func (s *Session) execAs(ctx context.Context, id runtime.Identity, cmd []string, ok func(*runtime.ExecResult) bool) error {
	res, err := s.rt.Exec(ctx, s.container.ID, runtime.ExecOptions{
		Cmd:      cmd,
		Identity: id,
	})
	if err != nil {
		return err
	}

	if ok == nil {
		ok = func(r *runtime.ExecResult) bool { return r.ExitCode == 0 }
	}
	if !ok(res) {
		return fmt.Errorf("%v exited %d: %s", cmd, res.ExitCode, strings.TrimSpace(string(res.Output)))
	}
	return nil
}
