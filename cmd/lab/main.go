// Package main is the lending strategy lab CLI entry point.
package main

import (
	"os"

	"lending-strategy-lab/cmd/lab/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
