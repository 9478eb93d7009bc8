package version

import (
	"strings"
	"testing"
)

func TestVersionString(t *testing.T) {
	v := Version{Major: "1", Minor: "2", Patch: "3", Metadata: "rc1", Build: "abc"}
	if got, want := v.String(), "Version: 1.2.3-rc1\nBuild: abc"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	v = Version{Major: "0", Minor: "3", Patch: "0", Build: "xyz"}
	if got := v.String(); !strings.HasPrefix(got, "Version: 0.3.0\n") {
		t.Errorf("got %q", got)
	}
}
