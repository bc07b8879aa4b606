// Package main provides the entry point for the detangle cross-cloud
// dedup CLI.
package main

import (
	"errors"
	"os"
)

// Exit codes. Partial means the run completed but some units of work
// failed; fatal means the run could not proceed at all.
const (
	exitOK      = 0
	exitPartial = 1
	exitFatal   = 2
)

func main() {
	err := Execute()
	switch {
	case err == nil:
		os.Exit(exitOK)
	case errors.Is(err, errPartial):
		os.Exit(exitPartial)
	default:
		os.Exit(exitFatal)
	}
}
