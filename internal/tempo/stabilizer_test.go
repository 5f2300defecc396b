package tempo

import (
	"math"
	"testing"
)

func confidentEstimate(bpm float64) Estimate {
	return Estimate{BPM: bpm, Confidence: 0.9, RMS: 0.2, WinSec: 2.0}
}

func TestStabilizerSilenceProducesZeroedDisplay(t *testing.T) {
	s := NewStabilizer()

	disp := s.Process(Estimate{}, false, 0, 1000)

	if disp.BPM != 0 || disp.Confidence != 0 || disp.State != StateAnalyzing {
		t.Fatalf("expected zeroed analyzing display on silence, got %+v", disp)
	}
}

func TestStabilizerLocksOnRepeatedConfidentEstimate(t *testing.T) {
	s := NewStabilizer()

	var last Display

	for i := 0; i < 20; i++ {
		last = s.Process(confidentEstimate(128), true, 0.2, int64(1000*i))
	}

	if last.State != StateTracking {
		t.Fatalf("expected StateTracking after sustained confident input, got %v", last.State)
	}

	if last.BPM != 128 {
		t.Fatalf("expected locked integer BPM 128, got %v", last.BPM)
	}

	if last.Confidence <= 0 || last.Confidence > confClampHi {
		t.Fatalf("confidence out of bounds: %v", last.Confidence)
	}
}

func TestStabilizerConfidenceNeverExceedsClamp(t *testing.T) {
	s := NewStabilizer()

	est := Estimate{BPM: 128, Confidence: 5.0, RMS: 0.2, WinSec: 2.0}

	var last Display
	for i := 0; i < 10; i++ {
		last = s.Process(est, true, 0.2, int64(1000*i))
	}

	if last.Confidence > confClampHi {
		t.Fatalf("expected confidence clamped to %v, got %v", confClampHi, last.Confidence)
	}
}

func TestStabilizerResetClearsLock(t *testing.T) {
	s := NewStabilizer()

	for i := 0; i < 20; i++ {
		s.Process(confidentEstimate(128), true, 0.2, int64(1000*i))
	}

	if !s.lock.hasLock {
		t.Fatal("expected an integer lock to be held before Reset")
	}

	s.Reset()

	if s.lock.hasLock {
		t.Fatalf("expected Reset to clear the integer lock, got %+v", s.lock)
	}

	disp := s.Process(Estimate{}, false, 0, 0)
	if disp.State != StateAnalyzing {
		t.Fatalf("expected StateAnalyzing immediately after Reset, got %v", disp.State)
	}
}

func TestStabilizerLevelWithinBounds(t *testing.T) {
	s := NewStabilizer()

	disp := s.Process(confidentEstimate(128), true, 1.5, 0)

	if disp.Level < 0 || disp.Level > 1 {
		t.Fatalf("level out of [0,1]: %v", disp.Level)
	}
}

func TestOctaveNormalizeFoldsIntoRange(t *testing.T) {
	cases := []float64{45, 360, 700, 30}

	for _, v := range cases {
		out := octaveNormalize(v)
		if out < octaveRangeLo-1e-9 || out > octaveRangeHi+1e-9 {
			t.Fatalf("octaveNormalize(%v) = %v, not folded into [%v,%v]", v, out, octaveRangeLo, octaveRangeHi)
		}
	}
}

func TestHarmonicCandidatesIncludesRawFirst(t *testing.T) {
	c := harmonicCandidates(120)

	if c[0] != 120 {
		t.Fatalf("expected first harmonic candidate to be the raw value, got %v", c[0])
	}
}

// TestStabilizerAnchorCorrectsHalfTimeFlip covers spec.md §8 seed scenario 3
// ("half-time ambiguity"): once the anchor is set to 150 by sustained
// confident estimates, a later raw estimate that flips to half-time (75)
// must still display 150, not 75.
func TestStabilizerAnchorCorrectsHalfTimeFlip(t *testing.T) {
	s := NewStabilizer()

	var nowMs int64

	for i := 0; i < 30; i++ {
		s.Process(confidentEstimate(150), true, 0.2, nowMs)
		nowMs += 500
	}

	if !s.hasAnchor || math.Abs(s.anchorBPM-150) > 1 {
		t.Fatalf("expected anchor to settle near 150, got hasAnchor=%v anchor=%v", s.hasAnchor, s.anchorBPM)
	}

	var last Display

	for i := 0; i < 6; i++ {
		last = s.Process(Estimate{BPM: 75, Confidence: 0.9, RMS: 0.2, WinSec: 2.0}, true, 0.2, nowMs)
		nowMs += 500
	}

	if math.Abs(last.BPM-150) > 1 {
		t.Fatalf("expected half-time raw estimate to be corrected back to ~150 via the anchor, got %v", last.BPM)
	}
}
