// cmd/termaite/main.go
//
// Entry point for the termaite CLI. Running with no arguments on a TTY
// opens the interactive chat; a prompt argument (or piped stdin) runs one
// shot and exits.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "termaite: %v\n", err)
		os.Exit(1)
	}
}
