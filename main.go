package main

import (
	"os"

	"github.com/histsweep/histsweep/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
