// Command termvc is the command-line interface to a termvc installation.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/termvc/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
