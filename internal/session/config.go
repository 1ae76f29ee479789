package session

import (
	"fmt"
	"os"

	"github.com/distribution/reference"
	"gopkg.in/yaml.v3"

	"github.com/modelcell/envman/internal/naming"
	"github.com/modelcell/envman/internal/paths"
)

// Top-level configuration for a session.
//
// Values are layered: built-in defaults, then the user configuration
// file, then explicit overrides. Later layers win field by field; an
// explicit non-zero value always beats a default.
type Config struct {
	Verbose   bool            `yaml:"verbose"`
	BaseImage BaseImageConfig `yaml:"base_image"`
	Image     ImageConfig     `yaml:"image"`
	Container ContainerConfig `yaml:"container"`
	Network   NetworkConfig   `yaml:"network"`
	Registry  RegistryConfig  `yaml:"registry"`
}

// Configuration of the third-party dependency base image.
type BaseImageConfig struct {
	RepoUnsquashed     string            `yaml:"repo_unsquashed"`
	Repo               string            `yaml:"repo"`
	Tags               []string          `yaml:"tags"`
	ContextDir         string            `yaml:"context_dir"`
	DockerfileTemplate string            `yaml:"dockerfile_template"`
	BuildArgs          map[string]string `yaml:"build_args"`
}

// Configuration of the environment image.
type ImageConfig struct {
	Repo               string     `yaml:"repo"`
	Tags               []string   `yaml:"tags"`
	DockerfileTemplate string     `yaml:"dockerfile_template"`
	ConfigDir          string     `yaml:"config_dir"`           // Host directory of *.cfg files to copy.
	ContainerConfigDir string     `yaml:"container_config_dir"` // Destination directory inside the container.
	CopyPaths          []CopyPath `yaml:"copy_paths"`           // Additional declared paths to copy.
	PythonVersion      string     `yaml:"python_version"`
	Packages           []string   `yaml:"packages"` // Baked into the image as requirements.txt.
}

// A declared host path and its destination inside the image or container.
type CopyPath struct {
	Host      string `yaml:"host"`
	Container string `yaml:"container"`
}

// Configuration of the environment container.
type ContainerConfig struct {
	NameFormat  string            `yaml:"name_format"` // Go reference-time layout for container names.
	Mounts      paths.MountTable  `yaml:"mounts"`
	Env         map[string]string `yaml:"env"`
	Ports       map[string]int    `yaml:"ports"`
	SSHKey      string            `yaml:"ssh_key"`    // Host path to a private key for the VCS host.
	SSHHost     string            `yaml:"ssh_host"`   // Host to scan and probe (e.g. github.com).
	GitConfig   string            `yaml:"git_config"` // Host path to a .gitconfig to install.
	UserHome    string            `yaml:"user_home"`  // Home directory of the container user.
	Packages    PackageSets       `yaml:"packages"`
	SetupScript string            `yaml:"setup_script"` // Extra shell command run after installs.
}

// The three ordered package sets installed during provisioning.
//
// Registry entries come from the package index, VCS entries from
// source-control URLs, and Local entries are host paths that must lie
// under a mount (installed editable from the mounted location).
type PackageSets struct {
	Registry []string `yaml:"registry"`
	VCS      []string `yaml:"vcs"`
	Local    []string `yaml:"local"`
}

// Configuration of the helper network and its auxiliary containers.
type NetworkConfig struct {
	Name       string         `yaml:"name"`
	Containers []AuxContainer `yaml:"containers"`
}

// An auxiliary container attached to the helper network.
type AuxContainer struct {
	Name    string            `yaml:"name"`
	Image   string            `yaml:"image"`
	Env     map[string]string `yaml:"env"`
	ShmSize int64             `yaml:"shm_size"`
}

// Image registry credentials for login, push, and pull.
type RegistryConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Returns the built-in configuration defaults.
func DefaultConfig() Config {
	return Config{
		BaseImage: BaseImageConfig{
			RepoUnsquashed: "modelcell/env-deps-unsquashed",
			Repo:           "modelcell/env-deps",
			Tags:           []string{"latest"},
		},
		Image: ImageConfig{
			Repo:               "modelcell/env",
			Tags:               []string{"latest"},
			ConfigDir:          "~/.envman",
			ContainerConfigDir: "/root/.envman",
			PythonVersion:      "3.11",
		},
		Container: ContainerConfig{
			NameFormat: naming.DefaultFormat,
			SSHHost:    "github.com",
			UserHome:   "/root",
		},
		Network: NetworkConfig{
			Name: "envman",
		},
	}
}

// Loads configuration from the default location.
//
// A missing file is not an error; the defaults are returned unchanged.
func LoadDefaultConfig() (Config, error) {
	return LoadConfig(paths.ConfigFile(), true)
}

// Loads configuration from a YAML file layered over the defaults.
//
// Fields absent from the file keep their default values. When optional
// is true a missing file yields the plain defaults.
func LoadConfig(path string, optional bool) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("%w: reading %s: %v", ErrConfiguration, path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: parsing %s: %v", ErrConfiguration, path, err)
	}
	return cfg, nil
}

// Explicit per-invocation overrides.
//
// Zero values mean "not set"; any non-zero field replaces the
// corresponding configuration value.
type Overrides struct {
	ImageRepo        string
	ImageTags        []string
	NameFormat       string
	ConfigDir        string
	SSHKey           string
	NetworkName      string
	Mounts           paths.MountTable
	RegistryPackages []string
	VCSPackages      []string
	LocalPackages    []string
	Verbose          bool
}

// Applies explicit overrides on top of the configuration.
//
// A plain field-by-field merge: explicit non-zero values always win over
// defaults and file values. The receiver is not modified.
func (c Config) Merge(o Overrides) Config {
	merged := c

	if o.ImageRepo != "" {
		merged.Image.Repo = o.ImageRepo
	}
	if len(o.ImageTags) > 0 {
		merged.Image.Tags = o.ImageTags
	}
	if o.NameFormat != "" {
		merged.Container.NameFormat = o.NameFormat
	}
	if o.ConfigDir != "" {
		merged.Image.ConfigDir = o.ConfigDir
	}
	if o.SSHKey != "" {
		merged.Container.SSHKey = o.SSHKey
	}
	if o.NetworkName != "" {
		merged.Network.Name = o.NetworkName
	}
	if len(o.Mounts) > 0 {
		merged.Container.Mounts = o.Mounts
	}
	if len(o.RegistryPackages) > 0 {
		merged.Container.Packages.Registry = o.RegistryPackages
	}
	if len(o.VCSPackages) > 0 {
		merged.Container.Packages.VCS = o.VCSPackages
	}
	if len(o.LocalPackages) > 0 {
		merged.Container.Packages.Local = o.LocalPackages
	}
	if o.Verbose {
		merged.Verbose = true
	}

	return merged
}

// Validates the configuration.
func (c Config) Validate() error {
	if c.Image.Repo == "" {
		return fmt.Errorf("%w: image repo must be set", ErrConfiguration)
	}
	if _, err := reference.ParseNormalizedNamed(c.Image.Repo); err != nil {
		return fmt.Errorf("%w: image repo %q: %v", ErrConfiguration, c.Image.Repo, err)
	}
	if len(c.Image.Tags) == 0 {
		return fmt.Errorf("%w: image needs at least one tag", ErrConfiguration)
	}
	if c.Container.NameFormat == "" {
		return fmt.Errorf("%w: container name format must be set", ErrConfiguration)
	}
	for _, m := range c.Container.Mounts {
		if m.Host == "" || m.Container == "" {
			return fmt.Errorf("%w: mount entries need host and container paths", ErrConfiguration)
		}
		if m.Container[0] != '/' {
			return fmt.Errorf("%w: container mount path %q must be absolute", ErrConfiguration, m.Container)
		}
	}
	return nil
}
