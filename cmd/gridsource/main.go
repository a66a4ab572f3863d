// Package main provides the gridsource CLI.
package main

import (
	"os"

	"github.com/leapstack-labs/gridsource/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
