package utils

import (
	"runtime/debug"
)

const unknownVersion = "unknown"

// Version can be set at link time with -ldflags "-X github.com/temirov/repodigest/internal/utils.Version=v1.2.3".
var Version = ""

// GetApplicationVersion reports the link time version, the module version
// recorded in the build info, or the VCS revision, in that order.
func GetApplicationVersion() string {
	if Version != "" {
		return Version
	}
	buildInfo, buildInfoAvailable := debug.ReadBuildInfo()
	if !buildInfoAvailable {
		return unknownVersion
	}
	if buildInfo.Main.Version != "" && buildInfo.Main.Version != "(devel)" {
		return buildInfo.Main.Version
	}
	for _, setting := range buildInfo.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 12 {
			return setting.Value[:12]
		}
	}
	return unknownVersion
}
