// Package main is the entry point for the forge CLI.
// forge compiles or interprets job sources, runs them in isolated working
// directories, and validates the artifacts they leave behind.
package main

import (
	"os"

	"jobforge/cmd/forge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
