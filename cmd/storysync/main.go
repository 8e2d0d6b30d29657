// Package main is the storysync command: it serves the offline-sync core to
// local UI clients and runs its maintenance tasks.
package main

import (
	"os"
)

// version is set at build time via ldflags
var version = "dev"

func main() {
	if err := Execute(); err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
