package cmd

import (
	"fmt"
	goruntime "runtime"
	"runtime/debug"

	"github.com/dotcommander/yagent/internal/storage"
)

// BuildInfo is injected by the build pipeline.
type BuildInfo struct {
	Version   string
	CommitSHA string
}

func versionTemplate(b BuildInfo) string {
	v := "{{.Name}} {{.Version}}"
	if len(b.CommitSHA) >= storage.IDShort {
		v += " (" + storage.ShortID(b.CommitSHA) + ")"
	}
	return v + fmt.Sprintf(" %s %s/%s\n", goruntime.Version(), goruntime.GOOS, goruntime.GOARCH)
}

func normalizeBuildInfo(b BuildInfo) BuildInfo {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		info = &debug.BuildInfo{}
	}
	return fillBuildInfo(b, info)
}

// fillBuildInfo completes b from the module and VCS data embedded by go build.
func fillBuildInfo(b BuildInfo, info *debug.BuildInfo) BuildInfo {
	vcs := map[string]string{}
	for _, s := range info.Settings {
		vcs[s.Key] = s.Value
	}
	rev := vcs["vcs.revision"]

	if b.CommitSHA == "" {
		b.CommitSHA = rev
	}
	if b.Version == "" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		b.Version = info.Main.Version
	}
	if b.Version != "" {
		return b
	}
	b.Version = "dev"
	if len(rev) >= storage.IDShort {
		b.Version += "-" + storage.ShortID(rev)
	}
	if vcs["vcs.modified"] == "true" {
		b.Version += "-dirty"
	}
	return b
}
