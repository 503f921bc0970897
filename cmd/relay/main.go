package main

import (
	"os"

	"github.com/relaywire/relay/internal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
