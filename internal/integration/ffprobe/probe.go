// Package ffprobe shells out to ffprobe to read the sample rate and
// channel count of an input file before decoding it.
package ffprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"

	"github.com/farcloser/primordium/fault"

	"github.com/farcloser/cadence/internal/integration/binary"
	"github.com/farcloser/cadence/internal/types"
)

// Stream is the subset of an ffprobe audio stream entry cadence needs.
type Stream struct {
	CodecType  string `json:"codec_type"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// Result is the subset of ffprobe's JSON output cadence parses.
type Result struct {
	Streams []Stream `json:"streams"`
}

// Probe runs ffprobe on filePath and returns the first audio stream's
// sample rate and channel count.
func Probe(ctx context.Context, filePath string) (types.PCMFormat, error) {
	slog.Debug("ffprobe.Probe", "file path", filePath)

	ffprobePath, found := binary.Available(name)
	if !found {
		return types.PCMFormat{}, fmt.Errorf("%w: %s", fault.ErrMissingRequirements, name)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	//nolint:gosec // filePath is intentionally user-provided input for probing media files
	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		filePath,
	)

	var stderr bytes.Buffer

	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return types.PCMFormat{}, fmt.Errorf("%w: after %v", fault.ErrTimeout, timeout)
		}

		return types.PCMFormat{}, fmt.Errorf("%w: %s: %w", fault.ErrCommandFailure, stderr.String(), err)
	}

	var result Result
	if err = json.Unmarshal(output, &result); err != nil {
		return types.PCMFormat{}, fmt.Errorf("%w: %w", fault.ErrInvalidJSON, err)
	}

	for _, stream := range result.Streams {
		if stream.CodecType != "audio" {
			continue
		}

		sr, err := strconv.Atoi(stream.SampleRate)
		if err != nil {
			return types.PCMFormat{}, fmt.Errorf("%w: invalid sample rate %q", fault.ErrReadFailure, stream.SampleRate)
		}

		return types.PCMFormat{SampleRate: sr, Channels: stream.Channels}, nil
	}

	return types.PCMFormat{}, fmt.Errorf("%w: no audio stream in %s", fault.ErrReadFailure, filePath)
}
