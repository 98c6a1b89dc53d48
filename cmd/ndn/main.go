package main

import (
	"os"

	"ndnstore/cmd/ndn/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
