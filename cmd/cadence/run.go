package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/farcloser/cadence"
	"github.com/farcloser/cadence/internal/capture/filesource"
	"github.com/farcloser/cadence/internal/capture/synthsource"
)

const defaultSynthSR = 48000

var errRunArgs = errors.New("expected at most one argument: audio file path")

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Track tempo from a file, or a synthetic click track if no file is given",
		ArgsUsage: "[file]",
		Flags: []cli.Flag{
			&cli.Float64Flag{
				Name:  "synth-bpm",
				Usage: "Synthetic click-track tempo (used when no file argument is given)",
				Value: 128,
			},
			&cli.Float64Flag{
				Name:  "synth-seconds",
				Usage: "Synthetic click-track duration in seconds",
				Value: 12,
			},
			&cli.Float64Flag{
				Name:  "synth-noise",
				Usage: "Synthetic click-track additive noise amplitude (0 disables)",
				Value: 0.02,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() > 1 {
				return fmt.Errorf("%w: got %d", errRunArgs, cmd.NArg())
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			engine := cadence.New(cadence.DefaultOptions())

			events := engine.Subscribe()

			go printUpdates(events)

			if cmd.NArg() == 1 {
				return runFile(ctx, engine, cmd.Args().First())
			}

			return runSynth(ctx, engine, cmd.Float64("synth-bpm"), cmd.Float64("synth-seconds"), cmd.Float64("synth-noise"))
		},
	}
}

func printUpdates(events <-chan cadence.Event) {
	for ev := range events {
		if ev.Kind != cadence.EventBPMUpdate {
			continue
		}

		d := ev.Display
		fmt.Printf("bpm=%.0f conf=%.2f state=%s level=%.2f\n", d.BPM, d.Confidence, d.State, d.Level)
	}
}

func runFile(ctx context.Context, engine *cadence.Engine, path string) error {
	source := filesource.New(path)

	if err := engine.Start(ctx, source); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}

	if err := source.Run(ctx); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}

	return nil
}

func runSynth(ctx context.Context, engine *cadence.Engine, bpm, seconds, noiseAmp float64) error {
	source := synthsource.New(defaultSynthSR)

	if err := engine.Start(ctx, source); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}

	if err := source.AnnounceSampleRate(ctx, defaultSynthSR); err != nil {
		return fmt.Errorf("announcing sample rate: %w", err)
	}

	rng := synthsource.NewRand(1)

	err := source.PushClickTrack(ctx, bpm, seconds, 0.8, noiseAmp, synthsource.DefaultKick, rng)

	source.Close()

	if err != nil {
		return fmt.Errorf("synthesizing click track: %w", err)
	}

	// Give the analyzer a moment to drain the last window before we exit.
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
	}

	return nil
}
