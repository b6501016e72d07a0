package main

import (
	"os"

	"github.com/opd-ai/meshwire/cmd/meshwire/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
