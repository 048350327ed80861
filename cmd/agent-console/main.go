package main

import (
	"os"

	"agent-console/internal/cli"
)

func main() {
	os.Exit(cli.Run())
}
