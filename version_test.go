package distributedmap

import (
	"runtime"
	"strings"
	"testing"
)

func TestGetVersionInfo(t *testing.T) {
	versionInfo := GetVersionInfo()

	if versionInfo.Version != Version {
		t.Errorf("Expected version %s, got %s", Version, versionInfo.Version)
	}

	if versionInfo.GoVersion != runtime.Version() {
		t.Errorf("Expected GoVersion %s, got %s", runtime.Version(), versionInfo.GoVersion)
	}
}

func TestVersionConstant(t *testing.T) {
	if !strings.HasPrefix(Version, "v") {
		t.Errorf("Version %s should start with 'v'", Version)
	}

	// Version should follow semantic versioning format (basic check)
	if strings.Count(Version, ".") != 2 {
		t.Errorf("Version %s should look like 'v1.0.0'", Version)
	}
}
