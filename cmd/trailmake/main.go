// Command trailmake builds a trail store from JSON lines.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/gettrail/internal/cli"
)

func main() {
	if err := cli.NewMakeCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
