package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestDefaultsPopulated(t *testing.T) {
	if Version == "" {
		t.Error("Version is empty after init")
	}
	if Commit == "" {
		t.Error("Commit is empty after init")
	}
}

func TestFull(t *testing.T) {
	full := Full()
	if !strings.Contains(full, Version) || !strings.Contains(full, "commit: "+Commit) {
		t.Errorf("Full() = %q", full)
	}
}

func TestGet(t *testing.T) {
	info := Get()

	if info.Version != Version || info.Commit != Commit {
		t.Errorf("Get() = %+v", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %s, want %s", info.GoVersion, runtime.Version())
	}
	if info.Platform != runtime.GOOS+"/"+runtime.GOARCH {
		t.Errorf("Platform = %s", info.Platform)
	}
	if info.ProtocolVersion != 5 {
		t.Errorf("ProtocolVersion = %d, want 5", info.ProtocolVersion)
	}
}
