package main

import (
	"os"

	"gridvault/cmd/gv/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
