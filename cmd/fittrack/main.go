// Command fittrack records workouts offline and syncs them to the remote store.
package main

import (
	"fmt"
	"os"

	"github.com/fittrack/backend/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
