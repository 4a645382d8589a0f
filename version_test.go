package klatch

import (
	"strings"
	"testing"
)

func TestGetVersion(t *testing.T) {
	v := GetVersion()
	if !strings.HasPrefix(v, "klatch "+Version) {
		t.Errorf("Expected version prefix, got %q", v)
	}
	if GitCommit == "" || BuildDate == "" {
		t.Error("Expected commit and build date to be resolved")
	}
}

func TestGetVersionInfo(t *testing.T) {
	info := GetVersionInfo()
	for _, key := range []string{"version", "commit", "build_date", "go_version", "platform"} {
		if info[key] == "" {
			t.Errorf("Expected %s to be set", key)
		}
	}
	if shortRevision("0123456789abcdef") != "0123456789ab" {
		t.Errorf("Expected a 12 character revision, got %q", shortRevision("0123456789abcdef"))
	}
}
