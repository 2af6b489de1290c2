package version

import "runtime"

// These variables are set at build time using ldflags
var (
	// Version is the semantic version (e.g., "1.0.0")
	Version = "dev"
	// Commit is the git commit hash
	Commit = "unknown"
	// BuildDate is the build timestamp
	BuildDate = "unknown"
)

// BuildInfo is the version block reported on /status
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
}

// Info returns the build metadata
func Info() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
}

// Full returns a formatted version string
func Full() string {
	if Version == "dev" {
		return "dev (commit: " + Commit + ")"
	}
	return Version + " (commit: " + Commit + ")"
}

// Release is the Sentry release name
func Release() string {
	return "boardwatch@" + Version
}
