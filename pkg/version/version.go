// Package version derives the running build's identity. An -ldflags
// override wins, then the VCS revision the toolchain embeds, then "dev".
package version

import "runtime/debug"

// AppName appears in version strings, the health payload, and outbound
// user agents.
const AppName = "sage"

// commitOverride is injected with -ldflags for builds without a .git
// directory, such as container image builds.
var commitOverride string

// GitCommit is the short (8 char) commit hash, or "dev" when nothing is
// available, as under go test.
var GitCommit = resolveCommit()

func resolveCommit() string {
	if commitOverride != "" {
		return short(commitOverride)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return short(s.Value)
			}
		}
	}
	return "dev"
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "sage/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}
