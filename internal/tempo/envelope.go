package tempo

import (
	"math"

	"github.com/farcloser/cadence/internal/dsp"
)

// dsRate is the envelope sample rate after decimation (spec.md §4.1 step 3).
const dsRate = 200.0

// envelopeGateRMS and envelopeGateSeconds are the rejection gate on the
// envelope buffer before any slice analysis is attempted (spec.md §4.1 Gate).
const (
	envelopeGateRMS     = 4e-4
	envelopeGateSeconds = 1.0
)

// Envelope turns a stream of raw audio samples into the rectified,
// band-limited, decimated onset-strength signal the estimator runs
// autocorrelation over. It is stateful across calls: the onset filter
// chain's IIR state and the envelope FIFO both persist between windows,
// exactly as spec.md §4.1 requires ("streaming, stateful across calls").
type Envelope struct {
	sr float64

	hp *dsp.OnePole
	lp *dsp.OnePole

	decim      int
	decimAcc   float64
	decimCount int
	smoothed   float64
	havePrev   bool
	prevRaw    float64

	buf    []float64
	maxLen int

	lastRMSdb float64
	haveRMS   bool
}

// NewEnvelope builds the onset-enhancing filter chain for sample rate sr.
func NewEnvelope(sr float64) *Envelope {
	decim := int(math.Round(sr / dsRate))
	if decim < 1 {
		decim = 1
	}

	return &Envelope{
		sr:     sr,
		hp:     dsp.NewHighPass(40, sr),
		lp:     dsp.NewLowPass(180, sr),
		decim:  decim,
		maxLen: int(4 * dsRate),
		buf:    make([]float64, 0, int(4*dsRate)),
	}
}

// Push runs the onset filter chain over a block of raw samples and
// appends the resulting envelope samples to the FIFO, applying the
// input-gain reset rule (spec.md §4.1 step 1) first.
func (e *Envelope) Push(samples []float64) {
	if len(samples) == 0 {
		return
	}

	e.checkGainJump(samples)

	for _, x := range samples {
		hp := e.hp.HighPass(x)
		lp := e.lp.LowPass(hp)

		var attack float64
		if e.havePrev {
			diff := lp - e.prevRaw
			if diff > 0 {
				attack = diff
			}
		}

		e.prevRaw = lp
		e.havePrev = true

		e.decimAcc += attack
		e.decimCount++

		if e.decimCount >= e.decim {
			block := e.decimAcc / float64(e.decimCount)
			e.smoothed = 0.8*e.smoothed + 0.2*block
			e.appendSample(e.smoothed)
			e.decimAcc = 0
			e.decimCount = 0
		}
	}
}

func (e *Envelope) appendSample(v float64) {
	e.buf = append(e.buf, v)
	if len(e.buf) > e.maxLen {
		e.buf = e.buf[len(e.buf)-e.maxLen:]
	}
}

// checkGainJump compares this call's RMS (dBFS) against the previous
// call's; a jump of 6 dB or more zeroes the filter states and truncates
// the envelope buffer to its trailing 1 s (spec.md §4.1 step 1).
func (e *Envelope) checkGainJump(samples []float64) {
	var sumSq float64
	for _, x := range samples {
		sumSq += x * x
	}

	rms := math.Sqrt(sumSq / float64(len(samples)))

	db := -120.0
	if rms > 0 {
		db = 20 * math.Log10(rms)
	}

	if e.haveRMS && db-e.lastRMSdb >= 6 {
		e.hp.Reset()
		e.lp.Reset()
		e.smoothed = 0
		e.havePrev = false
		e.decimAcc = 0
		e.decimCount = 0

		keep := int(dsRate) // trailing 1s at dsRate
		if len(e.buf) > keep {
			e.buf = e.buf[len(e.buf)-keep:]
		}
	}

	e.lastRMSdb = db
	e.haveRMS = true
}

// Reset clears all envelope state, used on SR change or an explicit reset.
func (e *Envelope) Reset() {
	e.hp.Reset()
	e.lp.Reset()
	e.smoothed = 0
	e.havePrev = false
	e.decimAcc = 0
	e.decimCount = 0
	e.buf = e.buf[:0]
	e.haveRMS = false
}

// Ready reports whether the envelope buffer passes the analysis gate:
// RMS >= envelopeGateRMS and length >= envelopeGateSeconds of envelope samples.
func (e *Envelope) Ready() bool {
	if float64(len(e.buf)) < envelopeGateSeconds*dsRate {
		return false
	}

	return envelopeRMS(e.buf) >= envelopeGateRMS
}

// Samples returns the full envelope buffer ("long" slice in spec.md §4.1).
func (e *Envelope) Samples() []float64 {
	return e.buf
}

// Trailing returns the trailing sec seconds of the envelope buffer
// ("short" slice in spec.md §4.1).
func (e *Envelope) Trailing(sec float64) []float64 {
	n := int(sec * dsRate)
	if n >= len(e.buf) {
		return e.buf
	}

	return e.buf[len(e.buf)-n:]
}

func envelopeRMS(buf []float64) float64 {
	if len(buf) == 0 {
		return 0
	}

	var sumSq float64
	for _, v := range buf {
		sumSq += v * v
	}

	return math.Sqrt(sumSq / float64(len(buf)))
}
