package main

import (
	"fmt"
	"os"

	"github.com/leighmacdonald/pfp/internal/model"
)

var (
	// Build info embedded by goreleaser.
	version = "master" //nolint:gochecknoglobals
	commit  = "latest" //nolint:gochecknoglobals
	date    = "n/a"    //nolint:gochecknoglobals
	builtBy = "src"    //nolint:gochecknoglobals
)

func main() {
	versionInfo := model.Version{Version: version, Commit: commit, Date: date, BuiltBy: builtBy}

	if errExec := newRootCmd(versionInfo).Execute(); errExec != nil {
		_, _ = fmt.Fprintln(os.Stderr, errExec)
		os.Exit(1)
	}
}
