// Package tempo implements the autocorrelation tempo estimator and the
// display-stabilization pipeline that runs on top of it.
package tempo

import (
	"math"
)

const (
	shortWinMin       = 2.0
	shortWinMax       = 4.0
	shortWinFactor    = 2.5
	defaultLastBPM    = 140.0
	dualDeltaFrac     = 0.06
	dualConfRatio     = 0.75
	shortConsistency  = 0.03
	shortConsistNeed  = 2
	noneHopsToDrop    = 6
)

// Estimate is a single hop's raw tempo estimate. It has the same fields
// as the root package's RawEstimate; the engine passes it to the
// Stabilizer as is, without converting it.
type Estimate struct {
	BPM        float64
	Confidence float64
	RMS        float64
	FromShort  bool
	WinSec     float64
}

// Estimator runs the envelope pipeline and the dual short/long window
// autocorrelation arbitration described in spec.md §4.1. It owns its
// filter state and envelope buffer exclusively.
type Estimator struct {
	env    *Envelope
	minBPM float64
	maxBPM float64

	lastBPM         float64
	lastShortBPM    float64
	shortConsistCnt int
	noneRun         int
}

// NewEstimator builds an estimator for sample rate sr with the given BPM bounds.
func NewEstimator(sr, minBPM, maxBPM float64) *Estimator {
	return &Estimator{
		env:     NewEnvelope(sr),
		minBPM:  minBPM,
		maxBPM:  maxBPM,
		lastBPM: defaultLastBPM,
	}
}

// Reset clears all estimator-owned state: the envelope buffer, the
// filter state (coefficients are kept), and the short-window consistency counter.
func (e *Estimator) Reset() {
	e.env.Reset()
	e.lastBPM = defaultLastBPM
	e.lastShortBPM = 0
	e.shortConsistCnt = 0
	e.noneRun = 0
}

// Push feeds a 2 s analysis window (raw samples at SR) into the onset
// filter chain and, once the envelope gate passes, runs the per-slice
// analysis and dual-window arbitration. It returns false when no
// estimate is produced (spec.md §4.1 "Failure semantics").
func (e *Estimator) Push(raw []float64, rms float64) (Estimate, bool) {
	e.env.Push(raw)

	if !e.env.Ready() {
		e.noneRun++
		return Estimate{}, false
	}

	shortSec := clamp(shortWinFactor*60/e.lastBPM, shortWinMin, shortWinMax)

	long := e.env.Samples()
	short := e.env.Trailing(shortSec)

	longRes, longOK := analyzeSlice(long, e.minBPM, e.maxBPM)
	shortRes, shortOK := analyzeSlice(short, e.minBPM, e.maxBPM)

	chosen, ok := e.arbitrate(longRes, longOK, shortRes, shortOK)
	if !ok {
		e.noneRun++
		return Estimate{}, false
	}

	e.noneRun = 0
	e.lastBPM = chosen.bpm

	fromShort := ok && shortOK && chosen.bpm == shortRes.bpm && chosen.winSec == shortRes.winSec

	if shortOK {
		if e.lastShortBPM > 0 && math.Abs(shortRes.bpm-e.lastShortBPM)/e.lastShortBPM <= shortConsistency {
			e.shortConsistCnt++
		} else {
			e.shortConsistCnt = 0
		}

		e.lastShortBPM = shortRes.bpm
	} else {
		e.shortConsistCnt = 0
		e.lastShortBPM = 0
	}

	return Estimate{
		BPM:        chosen.bpm,
		Confidence: chosen.conf,
		RMS:        rms,
		FromShort:  fromShort,
		WinSec:     chosen.winSec,
	}, true
}

// arbitrate implements spec.md §4.1's dual-window arbitration: prefer the
// short-window candidate only when it disagrees enough, is nearly as
// confident, and has proven consistent across hops; otherwise prefer long.
func (e *Estimator) arbitrate(long sliceResult, longOK bool, short sliceResult, shortOK bool) (sliceResult, bool) {
	switch {
	case longOK && shortOK:
		deltaFrac := math.Abs(short.bpm-long.bpm) / long.bpm

		preferShort := deltaFrac > dualDeltaFrac &&
			short.conf >= dualConfRatio*long.conf &&
			e.shortConsistCnt >= shortConsistNeed

		if preferShort {
			return short, true
		}

		return long, true
	case longOK:
		return long, true
	case shortOK:
		return short, true
	default:
		return sliceResult{}, false
	}
}

// NoneRunExceeded reports whether enough consecutive none hops have
// elapsed that the caller should drop tracking (spec.md §4.1 "Failure
// semantics": after 6 hops).
func (e *Estimator) NoneRunExceeded() bool {
	return e.noneRun >= noneHopsToDrop
}
