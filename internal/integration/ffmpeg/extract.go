// Package ffmpeg shells out to ffmpeg to decode an arbitrary input
// container into raw mono float32 PCM, used by the file-backed capture
// source as a stand-in for a platform loopback driver.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/farcloser/primordium/fault"

	"github.com/farcloser/cadence/internal/integration/binary"
)

const (
	name    = "ffmpeg"
	codec   = "pcm_f32le"
	format  = "f32le"
	timeout = 30 * time.Second
)

// ExtractMono decodes input into little-endian float32 mono PCM at
// sampleRate, writing the raw samples to output. No header is written;
// callers know the format from sampleRate and 4-byte-float framing.
func ExtractMono(ctx context.Context, input io.Reader, output io.Writer, sampleRate int) error {
	slog.Debug("ffmpeg.ExtractMono", "sample_rate", sampleRate, "stage", "start")

	ffmpegPath, found := binary.Available(name)
	if !found {
		return fmt.Errorf("%w: %s", fault.ErrMissingRequirements, name)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-i", "-",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-acodec", codec,
		"-f", format,
		"-v", "quiet",
		"-",
	)

	cmd.Stdout = output
	cmd.Stdin = input

	var stderr bytes.Buffer

	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			slog.Debug("ffmpeg.ExtractMono", "stage", "timeout")

			return fmt.Errorf("%w: after %v", fault.ErrTimeout, timeout)
		}

		slog.Debug("ffmpeg.ExtractMono", "stage", "error")

		return fmt.Errorf("%w: %s: %w", fault.ErrCommandFailure, stderr.String(), err)
	}

	return nil
}
