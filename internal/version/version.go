// Package version reports build metadata for the tmplserve binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// Set at build time with -ldflags "-X github.com/conneroisu/tmplserve/internal/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// BuildInfo contains version and build information.
type BuildInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	Dirty     bool      `json:"dirty"`
	BuildTime time.Time `json:"build_time"`
	GoVersion string    `json:"go_version"`
	Platform  string    `json:"platform"`
}

var vcs = sync.OnceValue(func() map[string]string {
	settings := map[string]string{}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return settings
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		settings["main.version"] = v
	}
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	return settings
})

// Get collects build information from linker flags, falling back to the
// VCS stamps embedded by the Go toolchain.
func Get() BuildInfo {
	settings := vcs()

	info := BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		Dirty:     settings["vcs.modified"] == "true",
		BuildTime: parseTime(BuildTime),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	if info.GitCommit == "" || info.GitCommit == "unknown" {
		if rev, ok := settings["vcs.revision"]; ok {
			info.GitCommit = rev
		}
	}
	if info.BuildTime.IsZero() {
		info.BuildTime = parseTime(settings["vcs.time"])
	}
	if info.Version == "" || info.Version == "dev" {
		if v, ok := settings["main.version"]; ok {
			info.Version = v
		} else if len(info.GitCommit) >= 7 && info.GitCommit != "unknown" {
			info.Version = "dev-" + info.GitCommit[:7]
		} else {
			info.Version = "dev"
		}
	}

	return info
}

// IsRelease reports whether the version is a tagged release.
func (b BuildInfo) IsRelease() bool {
	return b.Version != "dev" && !strings.HasPrefix(b.Version, "dev-")
}

// Short is the one-line form printed by "tmplserve version".
func (b BuildInfo) Short() string {
	var sb strings.Builder
	sb.WriteString("tmplserve ")
	sb.WriteString(b.Version)
	if b.IsRelease() && len(b.GitCommit) >= 7 {
		fmt.Fprintf(&sb, " (%s)", b.GitCommit[:7])
	}
	if b.Dirty {
		sb.WriteString(" (dirty)")
	}
	return sb.String()
}

// String renders every field on its own line.
func (b BuildInfo) String() string {
	lines := []string{b.Short()}
	if b.GitCommit != "unknown" {
		lines = append(lines, "Commit: "+b.GitCommit)
	}
	if !b.BuildTime.IsZero() {
		lines = append(lines, "Built: "+b.BuildTime.UTC().Format(time.RFC3339))
	}
	lines = append(lines, "Go: "+b.GoVersion, "Platform: "+b.Platform)
	return strings.Join(lines, "\n")
}

func parseTime(s string) time.Time {
	if s == "" || s == "unknown" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
