package viz

import "testing"

func TestDownsampleEmptyWindow(t *testing.T) {
	pkt := Downsample(nil)

	if pkt.RMS != 0 || pkt.Silent {
		t.Fatalf("expected zeroed, non-silent-flagged packet for empty input, got %+v", pkt)
	}
}

func TestDownsampleSilenceBelowGate(t *testing.T) {
	window := make([]float64, 1000)

	pkt := Downsample(window)
	if !pkt.Silent {
		t.Fatal("expected a zero-valued window to be flagged silent")
	}
}

func TestDownsampleLoudSignalNotSilent(t *testing.T) {
	window := make([]float64, 1000)
	for i := range window {
		if i%2 == 0 {
			window[i] = 0.8
		} else {
			window[i] = -0.8
		}
	}

	pkt := Downsample(window)
	if pkt.Silent {
		t.Fatal("expected a loud square wave not to be flagged silent")
	}

	if pkt.RMS < SilenceGate {
		t.Fatalf("expected rms above the silence gate, got %v", pkt.RMS)
	}
}

func TestDownsamplePreservesPeakSign(t *testing.T) {
	window := make([]float64, Buckets*10)

	// First bucket's span holds a single large negative peak.
	window[3] = -0.95

	pkt := Downsample(window)

	if pkt.Samples[0] >= 0 {
		t.Fatalf("expected the first bucket to preserve the negative peak sign, got %v", pkt.Samples[0])
	}
}

func TestDownsampleRMSClampedTo01(t *testing.T) {
	window := make([]float64, 100)
	for i := range window {
		window[i] = 5.0
	}

	pkt := Downsample(window)

	if pkt.RMS > 1 {
		t.Fatalf("expected rms clamped to 1, got %v", pkt.RMS)
	}
}
