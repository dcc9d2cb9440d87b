package main

import (
	"os"

	"github.com/lipish/openrunner/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
