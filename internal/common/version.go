package common

import (
	"os"
	"strings"
)

// Version information, set at build time via ldflags.
var (
	version   = "dev"
	build     = "unknown"
	gitCommit = "unknown"
)

// GetVersion returns the application version.
func GetVersion() string {
	return version
}

// GetBuild returns the build identifier.
func GetBuild() string {
	return build
}

// GetGitCommit returns the git commit hash.
func GetGitCommit() string {
	return gitCommit
}

// LoadVersionFromFile loads the version from a .version file next to the
// binary when ldflags did not set it.
func LoadVersionFromFile() {
	if version != "dev" {
		return
	}
	data, err := os.ReadFile(".version")
	if err != nil {
		return
	}
	v := strings.TrimSpace(string(data))
	if v != "" {
		version = v
	}
}
