// Package version exposes the build version of deepreport.
//
// The commit comes from an -ldflags override, then VCS info from
// debug.BuildInfo, then "dev".
package version

import "runtime/debug"

// AppName prefixes version strings and the LLM client user agent.
const AppName = "deepreport"

// gitCommitOverride is set with -ldflags for container builds without .git.
var gitCommitOverride string

// GitCommit is the short commit hash, or "dev" under `go test` and non-git builds.
var GitCommit = shortCommit()

func shortCommit() string {
	if gitCommitOverride != "" {
		return short(gitCommitOverride)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return short(s.Value)
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

// Full returns "deepreport/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}
