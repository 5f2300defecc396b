package tempo

import (
	"math"
	"testing"
)

func TestNormalizerSilenceYieldsZeroRMS(t *testing.T) {
	n := NewNormalizer(48000)

	win := make([]float64, 9600)
	out, rms := n.Process(win)

	if rms != 0 {
		t.Fatalf("expected rms 0 for silent window, got %v", rms)
	}

	for i, v := range out {
		if v != 0 {
			t.Fatalf("expected silent output, got nonzero at %d: %v", i, v)
		}
	}
}

func TestNormalizerOutputStaysBounded(t *testing.T) {
	n := NewNormalizer(48000)

	win := make([]float64, 9600)
	for i := range win {
		t := float64(i) / 48000
		win[i] = 3 * math.Sin(2*math.Pi*200*t) // loud input, tests soft clip
	}

	for i := 0; i < 5; i++ {
		out, _ := n.Process(win)

		for _, v := range out {
			if v < -1.1 || v > 1.1 {
				t.Fatalf("normalizer output escaped soft-clip bounds: %v", v)
			}
		}
	}
}

func TestNormalizerResetClearsGain(t *testing.T) {
	n := NewNormalizer(48000)

	win := make([]float64, 9600)
	for i := range win {
		t := float64(i) / 48000
		win[i] = 0.5 * math.Sin(2*math.Pi*200*t)
	}

	n.Process(win)
	n.Reset()

	if n.gain.Value() != 0 {
		t.Fatalf("expected gain reset to 0, got %v", n.gain.Value())
	}
}

func TestRmsOfKnownSignal(t *testing.T) {
	x := []float64{1, -1, 1, -1}

	if got := rmsOf(x); math.Abs(got-1) > 1e-9 {
		t.Fatalf("expected rms 1.0 for a unit square wave, got %v", got)
	}
}

func TestRmsOfEmpty(t *testing.T) {
	if rmsOf(nil) != 0 {
		t.Fatal("expected rmsOf(nil) == 0")
	}
}
