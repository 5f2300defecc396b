package capture

import (
	"log/slog"

	"gonum.org/v1/gonum/stat"
)

// Window is the sliding analysis-window FIFO from spec.md §3: it always
// holds the most recent samples, and Next yields a complete 2·SR window
// exactly when one becomes available, advancing by SR/2 each time.
type Window struct {
	sr   float64
	size int
	hop  int
	buf  []float64
}

// NewWindow builds a window sized for sample rate sr (2 s window, 0.5 s hop).
func NewWindow(sr float64) *Window {
	return &Window{
		sr:   sr,
		size: int(2 * sr),
		hop:  int(sr / 2),
	}
}

// Push appends raw mono samples (already downmixed) to the FIFO.
func (w *Window) Push(samples []float32) {
	for _, s := range samples {
		w.buf = append(w.buf, float64(s))
	}
}

// Next returns the next complete analysis window and advances the FIFO
// by one hop, or reports false if fewer than size samples are buffered.
func (w *Window) Next() ([]float64, bool) {
	if len(w.buf) < w.size {
		return nil, false
	}

	win := make([]float64, w.size)
	copy(win, w.buf[:w.size])

	w.buf = w.buf[w.hop:]

	return win, true
}

// Reset drops all buffered samples, used on SR change or explicit reset.
func (w *Window) Reset() {
	w.buf = w.buf[:0]
}

// Buffered reports how many samples are currently queued.
func (w *Window) Buffered() int {
	return len(w.buf)
}

// Downmix averages two channels into mono float32 frames, duplicating
// channel 0 when only one channel is present (spec.md §9, "Multi-channel
// down-mix").
func Downmix(left, right []float32) []float32 {
	if right == nil {
		return left
	}

	n := len(left)
	if len(right) < n {
		n = len(right)
	}

	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = (left[i] + right[i]) / 2
	}

	return out
}

// fakeStereoCorrelation is the threshold above which two channels are
// treated as a duplicated-mono source rather than genuine stereo.
const fakeStereoCorrelation = 0.999

// DiagnoseFakeStereo logs (at debug level) when an incoming stereo buffer
// looks like a duplicated-mono source, adapted from the teacher's
// correlation-based stereo-image auditor into a lightweight pre-downmix
// diagnostic; it does not change the downmix itself.
func DiagnoseFakeStereo(left, right []float32) {
	if len(left) == 0 || len(right) == 0 || len(left) != len(right) {
		return
	}

	l := make([]float64, len(left))
	r := make([]float64, len(right))

	for i := range left {
		l[i] = float64(left[i])
		r[i] = float64(right[i])
	}

	corr := stat.Correlation(l, r, nil)
	if corr >= fakeStereoCorrelation {
		slog.Debug("capture: stereo channels look duplicated", "correlation", corr)
	}
}
