package tempo

import "testing"

func TestRingPrunesOldValues(t *testing.T) {
	r := newRing(1000)

	r.push(0, 1)
	r.push(500, 2)
	r.push(2000, 3)

	vals := r.within(2000, 1000)

	if len(vals) != 1 || vals[0] != 3 {
		t.Fatalf("expected only the most recent value to survive pruning, got %v", vals)
	}
}

func TestRingClear(t *testing.T) {
	r := newRing(1000)
	r.push(0, 1)
	r.clear()

	if vals := r.within(0, 1000); len(vals) != 0 {
		t.Fatalf("expected empty ring after clear, got %v", vals)
	}
}

func TestModeIntPicksMostFrequent(t *testing.T) {
	mode, count := modeInt([]float64{128, 128, 140, 128})

	if mode != 128 || count != 3 {
		t.Fatalf("expected mode 128 with count 3, got mode=%v count=%v", mode, count)
	}
}

func TestModeIntEmptyIsNegative(t *testing.T) {
	mode, count := modeInt(nil)

	if mode != -1 || count != 0 {
		t.Fatalf("expected (-1, 0) for empty input, got (%v, %v)", mode, count)
	}
}

func TestCountNear(t *testing.T) {
	n := countNear([]float64{100, 100.5, 102, 90}, 100, 0.8)

	if n != 2 {
		t.Fatalf("expected 2 values within tolerance, got %v", n)
	}
}

func TestRoundHalfAwayFromZero(t *testing.T) {
	if round(2.5) != 3 {
		t.Fatalf("expected round(2.5) == 3, got %v", round(2.5))
	}

	if round(-2.5) != -3 {
		t.Fatalf("expected round(-2.5) == -3, got %v", round(-2.5))
	}
}

func TestAbs64(t *testing.T) {
	if abs64(-3) != 3 || abs64(3) != 3 {
		t.Fatal("abs64 did not return the absolute value")
	}
}
