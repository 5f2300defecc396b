package capture

import "testing"

func TestWindowNextRequiresFullBuffer(t *testing.T) {
	w := NewWindow(1000)

	w.Push(make([]float32, 500))

	if _, ok := w.Next(); ok {
		t.Fatal("expected Next to report false before size samples are buffered")
	}
}

func TestWindowNextAdvancesByHop(t *testing.T) {
	w := NewWindow(1000) // size=2000, hop=500

	w.Push(make([]float32, 2000))

	win, ok := w.Next()
	if !ok || len(win) != 2000 {
		t.Fatalf("expected a complete 2000-sample window, got ok=%v len=%v", ok, len(win))
	}

	if _, ok := w.Next(); ok {
		t.Fatal("expected only one complete window available after a single full push")
	}

	w.Push(make([]float32, 500))

	if _, ok := w.Next(); !ok {
		t.Fatal("expected a second window to become available after one more hop's worth of samples")
	}
}

func TestWindowResetClearsBuffer(t *testing.T) {
	w := NewWindow(1000)
	w.Push(make([]float32, 2000))
	w.Reset()

	if w.Buffered() != 0 {
		t.Fatalf("expected 0 buffered samples after Reset, got %v", w.Buffered())
	}

	if _, ok := w.Next(); ok {
		t.Fatal("expected Next to report false immediately after Reset")
	}
}

func TestDownmixAveragesStereo(t *testing.T) {
	left := []float32{1, 1, 1}
	right := []float32{3, 3, 3}

	out := Downmix(left, right)

	for _, v := range out {
		if v != 2 {
			t.Fatalf("expected averaged channel value 2, got %v", v)
		}
	}
}

func TestDownmixPassesThroughMono(t *testing.T) {
	left := []float32{1, 2, 3}

	out := Downmix(left, nil)

	if len(out) != 3 || out[0] != 1 {
		t.Fatalf("expected mono passthrough, got %v", out)
	}
}

func TestDiagnoseFakeStereoHandlesMismatchedLengths(t *testing.T) {
	// Must not panic on empty or mismatched-length input.
	DiagnoseFakeStereo(nil, nil)
	DiagnoseFakeStereo([]float32{1, 2}, []float32{1})
}
