package buildinfo

import (
	"runtime/debug"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromBuildInfo(t *testing.T) {
	t.Parallel()

	info := fromBuildInfo(&debug.BuildInfo{
		GoVersion: "go1.25.0",
		Main:      debug.Module{Version: "v1.2.0"},
		Settings: []debug.BuildSetting{
			{Key: "-tags", Value: "netgo"},
			{Key: "vcs.revision", Value: "0123abcdef0123abcdef"},
			{Key: "vcs.time", Value: "2024-05-01T10:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	})
	assert.Equal(t, "v1.2.0", info.Version)
	assert.Equal(t, "go1.25.0", info.GoVersion)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), info.Time)
	assert.True(t, info.Modified)
	assert.Equal(t, "v1.2.0 (rev 0123abc, 2024-05-01, dirty, tags: netgo)", info.String())
}

func TestInfoString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		info Info
		want string
	}{
		{name: "bare", info: Info{Version: "dev"}, want: "dev"},
		{name: "short revision", info: Info{Version: "dev", Revision: "abc"}, want: "dev (rev abc)"},
		{name: "tags only", info: Info{Version: "v1", Tags: "a,b"}, want: "v1 (tags: a,b)"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.info.String())
		})
	}
}

func TestDevelVersion(t *testing.T) {
	t.Parallel()

	info := fromBuildInfo(&debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})
	assert.Equal(t, "dev", info.Version)
}
