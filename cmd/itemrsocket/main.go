package main

import (
	"os"

	"item-rsocket/cmd/itemrsocket/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
