// Command docstore reads and writes a dual-store document database.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/docstore/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
