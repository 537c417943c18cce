// Package version reports which build of cortexd is running. The commit
// comes from an -ldflags override when set, falling back to the VCS
// metadata Go embeds in the binary, and finally to "dev".
package version

import "runtime/debug"

// AppName identifies this binary in logs, user agents, and the MCP
// client handshake.
const AppName = "cortexd"

// commitOverride is injected with -X at build time for environments
// without a .git directory, such as container image builds.
var commitOverride string

// GitCommit is the abbreviated commit hash of this build, or "dev" when
// no revision is available (go test, non-git checkouts).
var GitCommit = resolveCommit(commitOverride, debug.ReadBuildInfo)

// Full returns "cortexd/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}

func resolveCommit(override string, readInfo func() (*debug.BuildInfo, bool)) string {
	if override != "" {
		return shortRev(override)
	}
	if info, ok := readInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return shortRev(s.Value)
			}
		}
	}
	return "dev"
}

func shortRev(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}
