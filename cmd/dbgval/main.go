package main

import (
	"os"

	"github.com/go-delve/dbgval/cmd/dbgval/cmds"
	"github.com/go-delve/dbgval/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.DbgvalVersion.Build = Build
	}
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
