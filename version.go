package tapcov

import (
	"fmt"
	"runtime/debug"
)

// Commit is the git description of the build, set with
// -ldflags "-X github.com/lightninglabs/tapcov.Commit=...".
var Commit string

// The semantic version of tapcov.
const (
	AppMajor uint = 0
	AppMinor uint = 1
	AppPatch uint = 0

	// AppStatus is the pre-release label, empty for a release.
	AppStatus = "alpha"
)

// Version returns the semantic version followed by the commit the binary was
// built from. Without -ldflags the VCS revision recorded by the Go toolchain
// is used.
func Version() string {
	version := fmt.Sprintf("%d.%d.%d", AppMajor, AppMinor, AppPatch)
	if AppStatus != "" {
		version += "-" + AppStatus
	}

	return fmt.Sprintf("%s commit=%s", version, commit())
}

func commit() string {
	if Commit != "" {
		return Commit
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			return setting.Value
		}
	}

	return ""
}
