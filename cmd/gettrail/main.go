// Command gettrail extracts the trails of selected identifiers from trail
// stores and writes them to standard output as one JSON document.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/gettrail/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
