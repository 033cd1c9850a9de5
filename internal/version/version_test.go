package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestFromBuildInfo(t *testing.T) {
	tests := []struct {
		name       string
		info       *debug.BuildInfo
		wantVer    string
		wantCommit string
	}{
		{
			name: "module version and dirty tree",
			info: &debug.BuildInfo{
				Main: debug.Module{Version: "v0.3.0"},
				Settings: []debug.BuildSetting{
					{Key: "vcs.revision", Value: "0123456789abcdef"},
					{Key: "vcs.modified", Value: "true"},
				},
			},
			wantVer:    "v0.3.0",
			wantCommit: "0123456-dirty",
		},
		{
			name: "devel build",
			info: &debug.BuildInfo{
				Main:     debug.Module{Version: "(devel)"},
				Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc"}},
			},
			wantVer:    "",
			wantCommit: "abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldV, oldC, oldD := Version, Commit, Date
			t.Cleanup(func() { Version, Commit, Date = oldV, oldC, oldD })
			Version, Commit, Date = "", "", ""

			fromBuildInfo(tt.info, true)
			if Version != tt.wantVer {
				t.Errorf("Version = %q, want %q", Version, tt.wantVer)
			}
			if Commit != tt.wantCommit {
				t.Errorf("Commit = %q, want %q", Commit, tt.wantCommit)
			}
		})
	}
}

func TestUserAgent(t *testing.T) {
	if ua := UserAgent(); !strings.HasPrefix(ua, "sonoff-tasmotizer/") {
		t.Errorf("UserAgent() = %q", ua)
	}
	if d := Detailed(); !strings.Contains(d, Version) || !strings.Contains(d, "go:") {
		t.Errorf("Detailed() = %q", d)
	}
}
