package main

import (
	"os"

	"github.com/MEKXH/farcode/cmd/farcode/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
