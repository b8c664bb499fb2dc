// Command bouncer debounces jobs through a shared timestamp store.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/bouncer/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
