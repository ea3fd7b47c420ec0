package main

import (
	"os"

	"github.com/recogito/studio-jobs/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
