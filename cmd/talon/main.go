// Command talon runs commands against a Talon root from the shell.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/talon/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	code := cli.GetExitCode(err)
	// ExitFailure output has already been printed by the command.
	if err != nil && code != cli.ExitFailure {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(code)
}
