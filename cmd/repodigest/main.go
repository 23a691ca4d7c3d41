package main

import (
	"os"

	"github.com/temirov/repodigest/internal/cli"
)

// main is the entry point for the repodigest command. Execute reports its
// own errors on stderr.
func main() {
	if applicationExecutionError := cli.Execute(); applicationExecutionError != nil {
		os.Exit(1)
	}
}
