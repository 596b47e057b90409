package main

import (
	"os"

	"github.com/n0roo/toc-kit/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
