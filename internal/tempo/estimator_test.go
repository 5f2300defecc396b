package tempo

import (
	"math"
	"testing"
)

const testSR = 48000.0

// clickSignal synthesizes raw audio samples (at sr) with a short
// exponential burst at each beat of bpm, mirroring the signal shape
// Estimator.Push is meant to track.
func clickSignal(sr, bpm float64, seconds float64) []float64 {
	n := int(seconds * sr)
	period := 60 / bpm * sr

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		phase := math.Mod(float64(i), period) / sr
		if phase < 0.05 {
			out[i] = math.Exp(-phase/0.02) * math.Sin(2*math.Pi*60*phase)
		}
	}

	return out
}

func pushWindows(t *testing.T, est *Estimator, signal []float64, winSamples int) (last Estimate, gotAny bool) {
	t.Helper()

	hop := winSamples / 4

	for start := 0; start+winSamples <= len(signal); start += hop {
		win := signal[start : start+winSamples]

		rms := 0.0
		for _, v := range win {
			rms += v * v
		}

		rms = math.Sqrt(rms / float64(len(win)))

		if est, ok := est.Push(win, rms); ok {
			last = est
			gotAny = true
		}
	}

	return last, gotAny
}

func TestEstimatorConvergesOnSteadyTempo(t *testing.T) {
	est := NewEstimator(testSR, 91, 180)

	signal := clickSignal(testSR, 128, 10)
	last, ok := pushWindows(t, est, signal, int(2*testSR))

	if !ok {
		t.Fatal("expected at least one estimate from a clean steady click track")
	}

	if last.Confidence < 0 || last.Confidence > 1 {
		t.Fatalf("confidence out of range: %v", last.Confidence)
	}

	if last.BPM < 91 || last.BPM > 180 {
		t.Fatalf("bpm out of configured range: %v", last.BPM)
	}
}

func TestEstimatorResetClearsLastBPM(t *testing.T) {
	est := NewEstimator(testSR, 91, 180)

	signal := clickSignal(testSR, 150, 6)
	pushWindows(t, est, signal, int(2*testSR))

	est.Reset()

	if est.lastBPM != defaultLastBPM {
		t.Fatalf("expected Reset to restore lastBPM to default, got %v", est.lastBPM)
	}

	if est.NoneRunExceeded() {
		t.Fatal("expected NoneRunExceeded to be false immediately after Reset")
	}
}

func TestEstimatorNoneRunExceededAfterSilence(t *testing.T) {
	est := NewEstimator(testSR, 91, 180)

	silence := make([]float64, int(2*testSR))

	for i := 0; i < noneHopsToDrop+1; i++ {
		est.Push(silence, 0)
	}

	if !est.NoneRunExceeded() {
		t.Fatal("expected NoneRunExceeded after enough consecutive silent hops")
	}
}
