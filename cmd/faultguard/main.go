package main

import (
	"os"

	"github.com/roach88/faultguard/internal/cli"
)

func main() {
	// Command output (including errors) is written by the formatter; the
	// exit code is all that remains to map.
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
