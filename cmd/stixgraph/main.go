// Command stixgraph exports and imports STIX 2 bundles.
package main

import (
	"fmt"
	"os"

	"github.com/zero-day-ai/stixgraph/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
