// Command tapwire runs continuous-query statements over tapped message channels.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/tapwire/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
