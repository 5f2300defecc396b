// Package filesource implements the file-backed reference CaptureSource:
// it probes an audio file with ffprobe, decodes it to raw mono float32
// PCM with ffmpeg, and feeds the result into a capture.Queue as if it
// were arriving from a live loopback driver. It stands in for the
// platform capture driver spec.md §1 puts out of scope, grounded on the
// teacher's cmd/haustorium "process" pipeline (probe, then extract),
// restructured from a buffer-then-analyze shape into a streaming one so
// it exercises the same producer contract a real driver would.
package filesource

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/farcloser/cadence/internal/capture"
	"github.com/farcloser/cadence/internal/integration/ffmpeg"
	"github.com/farcloser/cadence/internal/integration/ffprobe"
)

// frameSamples is the number of mono samples pushed per Queue.Push call,
// chosen to keep latency low (≈10 ms at 48 kHz) without flooding the
// bounded queue.
const frameSamples = 512

const bytesPerSample = 4

// Source decodes filePath and streams it into a capture.Queue, reporting
// the probed sample rate on a separate single-producer channel before
// any frames at that rate are pushed, matching spec.md §6's capture
// producer contract.
type Source struct {
	path     string
	queue    *capture.Queue
	srChange chan int
}

// New builds a file source for path. Run must be called to start
// probing and decoding.
func New(path string) *Source {
	return &Source{
		path:     path,
		queue:    capture.NewQueue(),
		srChange: make(chan int, 1),
	}
}

// Queue returns the bounded frame queue the analyzer reads from.
func (s *Source) Queue() *capture.Queue {
	return s.queue
}

// SampleRateChanges returns the channel on which the probed sample rate
// is announced before decoding begins.
func (s *Source) SampleRateChanges() <-chan int {
	return s.srChange
}

// Run probes and decodes the file, pushing frames until EOF or ctx is
// done, then closes the queue. It blocks until decoding completes.
func (s *Source) Run(ctx context.Context) error {
	format, err := ffprobe.Probe(ctx, s.path)
	if err != nil {
		return fmt.Errorf("probing %s: %w", s.path, err)
	}

	slog.Debug("filesource.Run", "path", s.path, "sample_rate", format.SampleRate, "channels", format.Channels)

	select {
	case s.srChange <- format.SampleRate:
	case <-ctx.Done():
		return ctx.Err()
	}

	file, err := os.Open(s.path) //nolint:gosec // CLI/test tool opens a caller-specified audio file
	if err != nil {
		return fmt.Errorf("opening %s: %w", s.path, err)
	}
	defer file.Close()

	pipeReader, pipeWriter := io.Pipe()

	defer s.queue.Close()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer pipeWriter.Close()

		if extractErr := ffmpeg.ExtractMono(gctx, file, pipeWriter, format.SampleRate); extractErr != nil {
			return fmt.Errorf("extracting PCM from %s: %w", s.path, extractErr)
		}

		return nil
	})

	group.Go(func() error {
		return s.stream(gctx, pipeReader)
	})

	return group.Wait() //nolint:wrapcheck // stage errors are already wrapped at their origin
}

// stream reads fixed-size chunks of little-endian float32 samples from
// r and pushes them onto the queue as Frames until EOF.
func (s *Source) stream(ctx context.Context, r io.Reader) error {
	raw := make([]byte, frameSamples*bytesPerSample)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := io.ReadFull(r, raw)
		if n > 0 {
			s.queue.Push(capture.Frame{Samples: decodeFloat32LE(raw[:n])})
		}

		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}

			return fmt.Errorf("reading decoded PCM: %w", err)
		}
	}
}

func decodeFloat32LE(raw []byte) []float32 {
	n := len(raw) / bytesPerSample
	out := make([]float32, n)

	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(raw[i*bytesPerSample:])
		out[i] = math.Float32frombits(bits)
	}

	return out
}
