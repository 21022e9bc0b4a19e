// Package main provides the entry point for the beatgrid CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/Sumatoshi-tech/beatgrid/cmd/beatgrid/commands"
	"github.com/Sumatoshi-tech/beatgrid/pkg/score"
	"github.com/Sumatoshi-tech/beatgrid/pkg/version"
)

// exitCodeInvalidScore distinguishes validation failures from other errors.
const exitCodeInvalidScore = 2

func main() {
	version.InitBinaryVersion()

	err := commands.NewRootCommand(afero.NewOsFs()).Execute()
	if err == nil {
		return
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	if errors.Is(err, commands.ErrInvalidScores) || errors.Is(err, score.ErrInvalidScore) {
		os.Exit(exitCodeInvalidScore)
	}

	os.Exit(1)
}
