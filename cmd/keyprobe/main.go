// Package main is the entry point for the keyprobe CLI.
package main

import (
	"os"

	"github.com/goliatone/go-keyprobe/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
