// Package main is the entry point for the cortex CLI.
package main

import (
	"os"

	"github.com/dbhq-uk/cortex/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
