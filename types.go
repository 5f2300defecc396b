// Package cadence tracks the dominant tempo of whatever audio a capture
// source is producing and publishes a stable, integer-locked BPM display.
package cadence

import "time"

// State is the coarse tracking state reported alongside a BPM display.
type State int

const (
	StateAnalyzing State = iota
	StateTracking
	StateUncertain
)

func (s State) String() string {
	switch s {
	case StateAnalyzing:
		return "analyzing"
	case StateTracking:
		return "tracking"
	case StateUncertain:
		return "uncertain"
	}

	return "unknown"
}

// RawEstimate is what the tempo estimator produces at most once per hop.
type RawEstimate struct {
	BPM        float64 // in [60, 200]
	Confidence float64 // in [0, 1]
	RMS        float64
	FromShort  bool
	WinSec     float64
}

// DisplayState is the stabilized, user-facing value.
type DisplayState struct {
	BPM        float64
	Confidence float64 // clamped to [0, 0.95]
	State      State
	Level      float64 // in [0, 1]
}

// VizUpdate is the down-sampled waveform packet pushed to UI consumers.
type VizUpdate struct {
	Samples [192]float32
	RMS     float64 // in [0, 1], silence-gated at 0.015
}

// LogLine is a single diagnostic line pushed on the bpm_log event surface.
type LogLine struct {
	TimeMs int64
	Msg    string
}

// Options tunes the estimator away from its spec defaults. Zero fields
// take their DefaultOptions value. The Engine reads only MinBPM and
// MaxBPM (the estimator's lag search bounds); HopSeconds and
// WindowSeconds are not read, and the analysis window is always 2 s with
// a 0.5 s hop.
type Options struct {
	MinBPM, MaxBPM float64 // default 91, 180
	HopSeconds     float64 // default 0.5
	WindowSeconds  float64 // default 2.0
}

// DefaultOptions returns the tuning spec.md specifies for electronic/dance music.
func DefaultOptions() Options {
	return Options{
		MinBPM:        91,
		MaxBPM:        180,
		HopSeconds:    0.5,
		WindowSeconds: 2.0,
	}
}

func applyDefaults(opts *Options) {
	defaults := DefaultOptions()

	if opts.MinBPM == 0 {
		opts.MinBPM = defaults.MinBPM
	}

	if opts.MaxBPM == 0 {
		opts.MaxBPM = defaults.MaxBPM
	}

	if opts.HopSeconds == 0 {
		opts.HopSeconds = defaults.HopSeconds
	}

	if opts.WindowSeconds == 0 {
		opts.WindowSeconds = defaults.WindowSeconds
	}
}

// now is overridden in tests that need deterministic timestamps.
var now = func() time.Time { return time.Now() }

func nowMs() int64 {
	return now().UnixMilli()
}
