package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	toolName = "envman"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Path to the directory for envman's configuration.
//
//	Linux:   $XDG_CONFIG_HOME/envman or ~/.config/envman
//	macOS:   ~/Library/Application Support/envman
func Config() string {
	return filepath.Join(xdg.ConfigHome, toolName)
}

// Default path to the user configuration file.
//
//	Linux:   $XDG_CONFIG_HOME/envman/envman.yaml
//	macOS:   ~/Library/Application Support/envman/envman.yaml
func ConfigFile() string {
	return filepath.Join(Config(), toolName+".yaml")
}

// Path to the directory holding third-party credential and configuration
// files declared in paths.yaml.
func ThirdParty(configDir string) string {
	return filepath.Join(configDir, "third_party")
}

// Path to the index of third-party files within a host config directory.
//
// The index is a YAML mapping of paths relative to the third_party
// directory to absolute destinations inside the container.
func ThirdPartyIndex(configDir string) string {
	return filepath.Join(ThirdParty(configDir), "paths.yaml")
}
