// Package synthsource generates synthetic click-track and noise signals
// that drive a capture.Queue the same way a real or file-backed source
// would, used by property and scenario tests instead of real audio
// files. Grounded on the producer contract spec.md §6 assigns to any
// capture source: push mono float32 frames at a known SR, announce SR
// changes before frames at the new rate, allow empty keep-alive pushes.
package synthsource

import (
	"context"
	"math"
	"time"

	"github.com/farcloser/cadence/internal/capture"
)

const frameSamples = 512

// Kick renders one kick-drum-like impulse: a short exponentially decaying
// burst of a low sinusoid, repeated at the click track's beat interval.
type Kick struct {
	freq       float64
	decay      float64 // time constant in seconds
	durSeconds float64
}

// DefaultKick matches a typical four-on-the-floor kick: ~60 Hz thump,
// ~80 ms decay.
var DefaultKick = Kick{freq: 60, decay: 0.08, durSeconds: 0.25}

// Source synthesizes a mono float32 stream at a fixed sample rate and
// streams it through a capture.Queue in fixed-size frames, paced to real
// wall-clock time the way a live callback-driven capture device would
// be: push faster than real time and the bounded queue just drops
// frames (spec.md §5's documented, acceptable behavior), so pacing is
// required for a synthetic source to exercise the pipeline faithfully.
type Source struct {
	sr        int
	queue     *capture.Queue
	srChange  chan int
	nextFrame time.Time
}

// New builds a synthetic source at sample rate sr.
func New(sr int) *Source {
	return &Source{
		sr:       sr,
		queue:    capture.NewQueue(),
		srChange: make(chan int, 1),
	}
}

// Queue returns the bounded frame queue the analyzer reads from.
func (s *Source) Queue() *capture.Queue {
	return s.queue
}

// SampleRateChanges returns the channel on which sample-rate changes are
// announced before frames at the new rate.
func (s *Source) SampleRateChanges() <-chan int {
	return s.srChange
}

// AnnounceSampleRate pushes sr on the SR-change channel, used by tests
// simulating spec.md's "SR change mid-stream" boundary behavior.
func (s *Source) AnnounceSampleRate(ctx context.Context, sr int) error {
	s.sr = sr

	select {
	case s.srChange <- sr:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PushClickTrack synthesizes seconds of a steady bpm click track (using
// kick as the onset shape) at level (linear amplitude, 1.0 = full scale)
// plus additive white noise of the given amplitude, and pushes it onto
// the queue in frameSamples-sized frames. noiseAmp of 0 disables noise.
func (s *Source) PushClickTrack(ctx context.Context, bpm float64, seconds float64, level, noiseAmp float64, kick Kick, rng *Rand) error {
	total := int(seconds * float64(s.sr))
	beatPeriod := 60.0 / bpm * float64(s.sr)

	buf := make([]float32, 0, frameSamples)

	for i := 0; i < total; i++ {
		t := math.Mod(float64(i), beatPeriod) / float64(s.sr)

		v := 0.0
		if t < kick.durSeconds {
			v = math.Exp(-t/kick.decay) * math.Sin(2*math.Pi*kick.freq*t)
		}

		v *= level

		if noiseAmp > 0 {
			v += noiseAmp * rng.next()
		}

		buf = append(buf, float32(v))

		if len(buf) == frameSamples {
			if err := s.push(ctx, buf); err != nil {
				return err
			}

			buf = make([]float32, 0, frameSamples)
		}
	}

	if len(buf) > 0 {
		return s.push(ctx, buf)
	}

	return nil
}

// PushNoise synthesizes seconds of white noise at the given amplitude
// with no beat structure, used for the "noise-only input" scenario.
func (s *Source) PushNoise(ctx context.Context, seconds, amp float64, rng *Rand) error {
	total := int(seconds * float64(s.sr))

	buf := make([]float32, 0, frameSamples)

	for i := 0; i < total; i++ {
		buf = append(buf, float32(amp*rng.next()))

		if len(buf) == frameSamples {
			if err := s.push(ctx, buf); err != nil {
				return err
			}

			buf = make([]float32, 0, frameSamples)
		}
	}

	if len(buf) > 0 {
		return s.push(ctx, buf)
	}

	return nil
}

// PushSilence synthesizes seconds of zeroed keep-alive frames.
func (s *Source) PushSilence(ctx context.Context, seconds float64) error {
	total := int(seconds * float64(s.sr))

	for total > 0 {
		n := frameSamples
		if n > total {
			n = total
		}

		if err := s.push(ctx, make([]float32, n)); err != nil {
			return err
		}

		total -= n
	}

	return nil
}

// Close signals end of stream.
func (s *Source) Close() {
	s.queue.Close()
}

func (s *Source) push(ctx context.Context, samples []float32) error {
	if s.nextFrame.IsZero() {
		s.nextFrame = time.Now()
	}

	if wait := time.Until(s.nextFrame); wait > 0 {
		timer := time.NewTimer(wait)

		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()

			return ctx.Err()
		}
	}

	s.nextFrame = s.nextFrame.Add(time.Duration(float64(len(samples)) / float64(s.sr) * float64(time.Second)))

	frame := make([]float32, len(samples))
	copy(frame, samples)
	s.queue.Push(capture.Frame{Samples: frame})

	return nil
}

// Rand is a tiny deterministic linear-congruential generator, used
// instead of math/rand so tests get reproducible noise without pulling
// in a seeded global source.
type Rand struct {
	state uint64
}

// NewRand builds a generator seeded with seed.
func NewRand(seed uint64) *Rand {
	if seed == 0 {
		seed = 1
	}

	return &Rand{state: seed}
}

// next returns a pseudo-random value uniform on [-1, 1].
func (r *Rand) next() float64 {
	// Knuth's MMIX 64-bit LCG constants.
	r.state = r.state*6364136223846793005 + 1442695040888963407

	u := float64(r.state>>11) / float64(1<<53)

	return 2*u - 1
}
