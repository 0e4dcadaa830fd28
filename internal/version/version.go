package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	// Version is set at build time with -ldflags, or taken from the module
	// version recorded by go install.
	Version = "dev"
	// Commit is the VCS revision the binary was built from, if known.
	Commit = ""
)

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}
	if Commit == "" {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				Commit = s.Value
				break
			}
		}
	}
}

// String renders the version line shown by `farcode version` and /version.
func String() string {
	rev := ""
	if Commit != "" {
		short := Commit
		if len(short) > 12 {
			short = short[:12]
		}
		rev = " (" + short + ")"
	}
	return fmt.Sprintf("farcode %s%s %s/%s", Version, rev, runtime.GOOS, runtime.GOARCH)
}
