package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Version is a semantic version with an optional build identifier.
type Version struct {
	Major, Minor, Patch string
	Metadata            string
	Build               string
}

// gitIdent is the placeholder left in Build when it was not set at link
// time.
const gitIdent = "$Id$"

// DbgvalVersion is the current version of dbgval.
var DbgvalVersion = Version{Major: "0", Minor: "3", Patch: "0", Build: gitIdent}

func (v Version) String() string {
	s := "Version: " + strings.Join([]string{v.Major, v.Minor, v.Patch}, ".")
	if v.Metadata != "" {
		s += "-" + v.Metadata
	}
	return s + "\nBuild: " + v.build()
}

// build returns v.Build, or the VCS revision recorded by the go command
// when v.Build is still the placeholder.
func (v Version) build() string {
	if !strings.HasPrefix(v.Build, gitIdent) {
		return v.Build
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				return s.Value
			}
		}
	}
	return v.Build
}

// BuildInfo returns the Go version and the modules linked into the binary.
func BuildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return runtime.Version() + "\nnot built in module mode"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n mod\t%s\t%s\n", runtime.Version(), info.Main.Path, info.Main.Version)
	for _, dep := range info.Deps {
		fmt.Fprintf(&sb, " dep\t%s\t%s", dep.Path, dep.Version)
		if r := dep.Replace; r != nil {
			fmt.Fprintf(&sb, "\t=> %s\t%s", r.Path, r.Version)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
