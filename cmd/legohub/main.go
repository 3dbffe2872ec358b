package main

import (
	"fmt"
	"os"

	"legohub/cmd/legohub/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
