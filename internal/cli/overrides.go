package cli

import (
	"fmt"
	"strings"

	"github.com/modelcell/envman/internal/paths"
	"github.com/modelcell/envman/internal/session"
)

// Image override flags shared by the image commands.
type ImageFlags struct {
	Repo string   `help:"Override the environment image repository." placeholder:"REPO"`
	Tag  []string `help:"Override the environment image tags; repeatable." placeholder:"TAG"`
}

func (f ImageFlags) overrides() session.Overrides {
	return session.Overrides{ImageRepo: f.Repo, ImageTags: f.Tag}
}

// Container override flags shared by the container commands.
type ContainerFlags struct {
	NameFormat string   `help:"Override the container name layout (Go reference time)." placeholder:"LAYOUT"`
	Network    string   `help:"Override the helper network name." placeholder:"NAME"`
	Mount      []string `help:"Replace the mount table with HOST:CONTAINER[:MODE] entries; repeatable." placeholder:"SPEC"`
}

func (f ContainerFlags) overrides() (session.Overrides, error) {
	mounts, err := parseMounts(f.Mount)
	if err != nil {
		return session.Overrides{}, err
	}
	return session.Overrides{
		NameFormat:  f.NameFormat,
		NetworkName: f.Network,
		Mounts:      mounts,
	}, nil
}

// Provisioning override flags for setup-style commands.
type SetupFlags struct {
	SSHKey    string   `help:"Override the SSH private key path." placeholder:"PATH" type:"path"`
	ConfigDir string   `help:"Override the host configuration directory." placeholder:"DIR" type:"path"`
	Pkg       []string `help:"Registry package to install; repeatable." placeholder:"SPEC"`
	VCSPkg    []string `name:"vcs-pkg" help:"VCS package to install; repeatable." placeholder:"URL"`
	LocalPkg  []string `name:"local-pkg" help:"Mounted host path to install editable; repeatable." placeholder:"PATH"`
}

func (f SetupFlags) overrides() session.Overrides {
	return session.Overrides{
		SSHKey:           f.SSHKey,
		ConfigDir:        f.ConfigDir,
		RegistryPackages: f.Pkg,
		VCSPackages:      f.VCSPkg,
		LocalPackages:    f.LocalPkg,
	}
}

// Parses mount specs of the form HOST:CONTAINER[:MODE].
//
// MODE is "rw" or "ro"; omitted means the runtime default. The host
// side may still be home-relative or relative; the session resolves it.
func parseMounts(specs []string) (paths.MountTable, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	table := make(paths.MountTable, 0, len(specs))
	for _, spec := range specs {
		parts := strings.Split(spec, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("mount %q: expected HOST:CONTAINER[:MODE]", spec)
		}

		m := paths.Mount{Host: parts[0], Container: parts[1]}
		if len(parts) == 3 {
			if parts[2] != paths.ModeReadWrite && parts[2] != paths.ModeReadOnly {
				return nil, fmt.Errorf("mount %q: mode must be %q or %q", spec, paths.ModeReadWrite, paths.ModeReadOnly)
			}
			m.Mode = parts[2]
		}
		table = append(table, m)
	}
	return table, nil
}
