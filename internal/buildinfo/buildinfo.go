// Package buildinfo reports what the running binary was built from.
package buildinfo

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"
)

type Info struct {
	Version   string
	Revision  string
	Time      time.Time
	Modified  bool
	Tags      string
	GoVersion string
}

var readBuildInfo = debug.ReadBuildInfo

// Read returns the build information, with Version "dev" when unset.
func Read() Info {
	info, ok := readBuildInfo()
	if !ok || info == nil {
		return Info{Version: "dev"}
	}
	return fromBuildInfo(info)
}

func fromBuildInfo(info *debug.BuildInfo) Info {
	out := Info{Version: info.Main.Version, GoVersion: info.GoVersion}
	if out.Version == "" || out.Version == "(devel)" {
		out.Version = "dev"
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "-tags":
			out.Tags = setting.Value
		case "vcs.revision":
			out.Revision = setting.Value
		case "vcs.time":
			out.Time, _ = time.Parse(time.RFC3339, setting.Value)
		case "vcs.modified":
			out.Modified = setting.Value == "true"
		}
	}
	return out
}

// String formats the version followed by whatever else is known, e.g.
// "v1.2.0 (rev 0123abc, dirty, tags: netgo)".
func (i Info) String() string {
	var extra []string
	if i.Revision != "" {
		rev := i.Revision
		if len(rev) > 7 {
			rev = rev[:7]
		}
		extra = append(extra, "rev "+rev)
	}
	if !i.Time.IsZero() {
		extra = append(extra, i.Time.UTC().Format(time.DateOnly))
	}
	if i.Modified {
		extra = append(extra, "dirty")
	}
	if i.Tags != "" {
		extra = append(extra, "tags: "+i.Tags)
	}
	if len(extra) == 0 {
		return i.Version
	}
	return fmt.Sprintf("%s (%s)", i.Version, strings.Join(extra, ", "))
}

// VersionWithTags is Read().String().
func VersionWithTags() string {
	return Read().String()
}
