package main

import (
	"os"

	"talespinner/cli"
)

// Set via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cli.RootCmd.Version = version
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
