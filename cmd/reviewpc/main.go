// Command reviewpc runs the Review PC batch review simulator.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/reviewpc/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
