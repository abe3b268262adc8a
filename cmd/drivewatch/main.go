// Package main provides the entry point for the drivewatch CLI.
package main

import (
	"os"

	"github.com/Ning0612/drivewatch/cmd/drivewatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
