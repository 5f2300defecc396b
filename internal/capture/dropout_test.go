package capture

import "testing"

func TestDropoutCounterDetectsDeltaJump(t *testing.T) {
	d := &DropoutCounter{}

	d.Observe([]float32{0, 0.01, 0.9, -0.9, 0.01})

	if d.DeltaJumps == 0 {
		t.Fatal("expected at least one delta jump for a sharp discontinuity")
	}
}

func TestDropoutCounterIgnoresSmoothSignal(t *testing.T) {
	d := &DropoutCounter{}

	samples := make([]float32, 100)
	for i := range samples {
		samples[i] = float32(i) / 1000
	}

	d.Observe(samples)

	if d.DeltaJumps != 0 {
		t.Fatalf("expected no delta jumps for a smoothly ramping signal, got %v", d.DeltaJumps)
	}
}

func TestDropoutCounterDetectsZeroRun(t *testing.T) {
	d := &DropoutCounter{}

	zeros := make([]float32, dropoutMinZeroSamples+10)
	d.Observe(zeros)
	d.Observe([]float32{1})

	if d.ZeroRuns != 1 {
		t.Fatalf("expected exactly one zero run detected, got %v", d.ZeroRuns)
	}
}

func TestDropoutCounterIgnoresShortZeroRun(t *testing.T) {
	d := &DropoutCounter{}

	zeros := make([]float32, dropoutMinZeroSamples-1)
	d.Observe(zeros)
	d.Observe([]float32{1})

	if d.ZeroRuns != 0 {
		t.Fatalf("expected no zero run below the minimum length, got %v", d.ZeroRuns)
	}
}

func TestDropoutCounterReset(t *testing.T) {
	d := &DropoutCounter{}
	d.Observe([]float32{0, 0.9, -0.9})

	d.Reset()

	if d.DeltaJumps != 0 || d.ZeroRuns != 0 {
		t.Fatalf("expected Reset to clear counters, got %+v", d)
	}
}
