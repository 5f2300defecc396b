package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/farcloser/cadence/version"
)

func main() {
	ctx := context.Background()

	appl := &cli.Command{
		Name:    "cadence-report",
		Usage:   "Batch-analyze a folder of audio files and write a converged-BPM JSONL report",
		Version: version.Version() + " " + version.Commit(),
		Commands: []*cli.Command{
			reportCommand(),
		},
	}

	if err := appl.Run(ctx, os.Args); err != nil {
		slog.Error("failed to run", "error", err)
		os.Exit(1)
	}
}
