// Package main is the entry point for the tsq CLI binary.
package main

import (
	"os"

	"pagequery/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
