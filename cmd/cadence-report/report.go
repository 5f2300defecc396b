package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/farcloser/cadence"
	"github.com/farcloser/cadence/internal/capture/filesource"
	"github.com/farcloser/cadence/internal/output"
)

const outputFile = "cadence-report.jsonl"

var (
	errNotDirectory = errors.New("not a directory")
	errNoAudioFiles = errors.New("no audio files found")
)

func reportCommand() *cli.Command {
	return &cli.Command{
		Name:      "report",
		Usage:     "Scan a music collection and write a converged-BPM JSONL report",
		ArgsUsage: "<folder>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"j"},
				Usage:   "Number of concurrent workers",
				Value:   runtime.NumCPU(),
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Maximum time to spend converging on each file",
				Value: 20 * time.Second,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 1 {
				return fmt.Errorf("expected exactly one argument: folder path")
			}

			folder := cmd.Args().First()
			workers := max(cmd.Int("workers"), 1)
			timeout := cmd.Duration("timeout")

			return runReport(ctx, folder, workers, timeout)
		},
	}
}

func runReport(ctx context.Context, folder string, workers int, timeout time.Duration) error {
	info, err := os.Stat(folder)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%q: %w", folder, errNotDirectory)
	}

	files, err := collectAudioFiles(folder)
	if err != nil {
		return fmt.Errorf("scanning folder: %w", err)
	}

	if len(files) == 0 {
		return fmt.Errorf("%q: %w", folder, errNoAudioFiles)
	}

	fmt.Fprintf(os.Stderr, "Found %d files to analyze (%d workers)\n", len(files), workers)

	startTime := time.Now()
	records := make([]output.ReportRecord, len(files))

	var progress atomic.Int64

	sem := make(chan struct{}, workers)

	var waitGroup sync.WaitGroup

	for idx, filePath := range files {
		waitGroup.Add(1)

		go func(idx int, filePath string) {
			defer waitGroup.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			records[idx] = processFile(ctx, filePath, timeout)

			done := progress.Add(1)
			fmt.Fprintf(os.Stderr, "[%d/%d] %s\n", done, len(files), filePath)
		}(idx, filePath)
	}

	waitGroup.Wait()

	out, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer out.Close()

	enc := json.NewEncoder(out)
	failed := 0

	for idx := range records {
		record := &records[idx]

		if record.Err != "" {
			failed++
		}

		if err := enc.Encode(output.ReportRecordToMap(*record)); err != nil {
			fmt.Fprintf(os.Stderr, "writing record for %s: %v\n", files[idx], err)
		}
	}

	elapsed := time.Since(startTime)
	fmt.Fprintf(os.Stderr, "\nDone: %d files in %s (%d failed)\n", len(files), elapsed.Truncate(time.Millisecond), failed)
	fmt.Fprintf(os.Stderr, "Report written to %s\n", outputFile)

	return nil
}

// processFile runs one engine instance over filePath until the file is
// exhausted or timeout elapses, then reports the last converged display.
func processFile(ctx context.Context, filePath string, timeout time.Duration) output.ReportRecord {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	source := filesource.New(filePath)
	engine := cadence.New(cadence.DefaultOptions())

	if err := engine.Start(ctx, source); err != nil {
		return output.ReportRecord{File: filePath, Err: fmt.Sprintf("starting engine: %v", err)}
	}

	runErr := source.Run(ctx)

	select {
	case <-engine.Done():
	case <-ctx.Done():
	}

	if runErr != nil {
		return output.ReportRecord{File: filePath, Err: fmt.Sprintf("decoding: %v", runErr)}
	}

	display, ok := engine.Current()
	if !ok {
		return output.ReportRecord{File: filePath, Err: "no estimate produced"}
	}

	deltaJumps, zeroRuns := engine.DropoutStats()

	return output.ReportRecord{
		File:       filePath,
		BPM:        display.BPM,
		Confidence: display.Confidence,
		State:      display.State.String(),
		DeltaJumps: deltaJumps,
		ZeroRuns:   zeroRuns,
	}
}

func collectAudioFiles(root string) ([]string, error) {
	var files []string

	exts := map[string]bool{".flac": true, ".m4a": true, ".wav": true, ".mp3": true, ".aiff": true}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		if exts[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Sort(files)

	return files, nil
}
