package tempo

import (
	"fmt"
	"math"
)

// State is the coarse tracking state the stabilizer reports, mirrored
// one-for-one by the root package's State so the engine can convert
// with a plain int cast.
type State int

const (
	StateAnalyzing State = iota
	StateTracking
	StateUncertain
)

// Display is one hop's stabilized, user-facing output.
type Display struct {
	BPM        float64
	Confidence float64
	State      State
	Level      float64
}

const (
	silenceLevel = 0.03

	rmsJumpDB = 6.0

	noiseFloorDecay = 0.99
	noiseFloorGain  = 0.01
	snrDivisor      = 2.5
	snrClampLo      = 0.6
	snrClampHi      = 1.15
	confClampHi     = 0.95

	hiUltra, loUltra   = 0.15, 0.08
	hiNormal, loNormal = 0.40, 0.25
	ultraShortWinSec   = 0.1
	hiHopsNeed         = 3
	loHopsNeed         = 2

	harmonicHysteresis = 0.2
	harmonicRangeLo    = 60.0
	harmonicRangeHi    = 200.0

	octaveRangeLo  = 91.0
	octaveRangeHi  = 180.0
	octaveMaxFolds = 4

	fastRelockWindowMs = 2_000
	noneHopsRecovery   = 6
	recoveryConfMin    = 0.50

	smoothWindowMs = 1_500
	emaAlpha       = 0.85
	emaBeta        = 0.15
	abAlphaBase    = 0.28
	abBetaBase     = 0.06
	abDt           = 0.5
	abSLow         = 0.6
	abSMid         = 0.8
	abSHigh        = 1.0
	abConfLow      = 0.70
	abConfMid      = 0.80

	hardConfMin       = 0.80
	hardOutlierFrac   = 0.12
	hardHarmonicFrac  = 0.08
	softThrFast       = 0.50
	softThrNormal     = 0.55
	softSpanMsFast    = 1_000
	softSpanMsNormal  = 1_500
	softNeedFast      = 2
	softNeedNormal    = 3
	softNearTol       = 0.8
	majoritySpanMs    = 1_200
	majorityOverrideMs = 1_500

	anchorConfMin  = 0.85
	anchorRangeLo  = 60.0
	anchorRangeHi  = 160.0
	anchorDriftFrac = 0.08
	anchorEMAOld   = 0.85
	anchorEMANew   = 0.15
)

// Stabilizer owns all display-controller state (spec.md §3,
// "Stabilizer internal state"). Nothing outside this type touches it.
type Stabilizer struct {
	hasAnchor bool
	anchorBPM float64

	stableVals     *ring
	recentIntsCand *ring
	recentInts     *ring

	lock lockState

	abX, abV   float64
	hasAB      bool
	ema        float64
	hasEMA     bool

	hiCnt, loCnt int
	noneCnt      int
	devFromLockCnt int

	fastRelockDeadline int64

	hasPrevRMSdb bool
	prevRMSdb    float64
	noiseFloorRMS float64

	tracking   bool
	everLocked bool

	hasDisplayedInt bool
	displayedInt    int

	lastDisplay    Display
	hasLastDisplay bool

	lastHardState State
	hasHardState  bool

	fastRelockActive bool

	events []string
}

// NewStabilizer builds a stabilizer with empty state.
func NewStabilizer() *Stabilizer {
	return &Stabilizer{
		stableVals:     newRing(smoothWindowMs),
		recentIntsCand: newRing(smoothWindowMs),
		recentInts:     newRing(smoothWindowMs),
	}
}

// Reset clears all stabilizer state, used on SR change or explicit reset
// (spec.md §3: "all reset on SR change or explicit reset request").
func (s *Stabilizer) Reset() {
	*s = Stabilizer{
		stableVals:     newRing(smoothWindowMs),
		recentIntsCand: newRing(smoothWindowMs),
		recentInts:     newRing(smoothWindowMs),
	}
}

// TakeEvents drains and returns the diagnostic log lines produced by the
// most recent Process call (harmonic-correction events, fast-relock
// entry/exit), for the caller to fold into the `bpm_log` surface
// (spec.md §6, SPEC_FULL.md §12 "Diagnostic event log").
func (s *Stabilizer) TakeEvents() []string {
	ev := s.events
	s.events = nil

	return ev
}

func (s *Stabilizer) logEvent(msg string) {
	s.events = append(s.events, msg)
}

// Process runs one hop of the display-stabilization pipeline (spec.md §4.3).
func (s *Stabilizer) Process(est Estimate, hasEst bool, rms float64, nowMs int64) Display {
	level := clamp((20*math.Log10(math.Max(rms, 1e-9))+60)/60, 0, 1)
	if rms <= 0 {
		level = 0
	}

	if level < silenceLevel {
		s.hiCnt, s.loCnt = 0, 0
		s.tracking = false
		s.lock.clear()
		s.hasPrevRMSdb = false

		return Display{BPM: 0, Confidence: 0, State: StateAnalyzing, Level: level}
	}

	currentDB := 20 * math.Log10(math.Max(rms, 1e-9))
	fastRelock := nowMs < s.fastRelockDeadline

	if s.fastRelockActive && !fastRelock {
		s.fastRelockActive = false
		s.logEvent("fast-relock: exited")
	}

	rmsJumped := s.hasPrevRMSdb && math.Abs(currentDB-s.prevRMSdb) >= rmsJumpDB

	if rmsJumped {
		s.triggerFastRelock(nowMs)
		fastRelock = true
	}

	s.prevRMSdb = currentDB
	s.hasPrevRMSdb = true

	s.noiseFloorRMS = noiseFloorDecay*s.noiseFloorRMS + noiseFloorGain*rms

	if s.lock.expired(nowMs) {
		s.lock.clear()
	}

	conf := 0.0
	if hasEst {
		conf = est.Confidence

		if s.noiseFloorRMS > 0 {
			snr := rms / s.noiseFloorRMS
			conf *= clamp(snr/snrDivisor, snrClampLo, snrClampHi)
		}

		conf = math.Min(conf, confClampHi)
	}

	winSec := est.WinSec
	hi, lo := hiNormal, loNormal

	if hasEst && winSec <= ultraShortWinSec {
		hi, lo = hiUltra, loUltra
	}

	if conf >= hi {
		s.hiCnt++
		s.loCnt = 0
	} else if conf <= lo {
		s.loCnt++
		s.hiCnt = 0
	} else {
		s.hiCnt, s.loCnt = 0, 0
	}

	if s.hiCnt >= hiHopsNeed {
		s.tracking = true
		s.everLocked = true
	}

	if s.loCnt >= loHopsNeed {
		s.tracking = false
	}

	if !hasEst {
		return s.handleNone(nowMs, fastRelock, level)
	}

	recoveringFromNone := s.noneCnt >= noneHopsRecovery && conf >= recoveryConfMin
	s.noneCnt = 0

	disp := s.correctHarmonics(est.BPM)

	folded := octaveNormalize(disp)
	if folded != disp {
		s.logEvent(fmt.Sprintf("octave fold: %.1f -> %.1f", disp, folded))
	}

	disp = folded

	s.stableVals.push(nowMs, disp)

	nInt := int(round(disp))
	s.recentIntsCand.push(nowMs, float64(nInt))

	if recoveringFromNone || s.devFromLockCnt >= devFromLockCntNeed {
		s.triggerFastRelock(nowMs)
		fastRelock = true
	}

	if rmsJumped || recoveringFromNone || s.devFromLockCnt >= devFromLockCntNeed {
		if mode, count := modeInt(s.recentInts.within(nowMs, smoothWindowMs)); count >= 3 && mode >= 0 {
			s.lock.clear()
		}
	}

	disp = s.smooth(nowMs, disp, conf)

	out, devFromLock := s.lock.update(disp, conf, nowMs, fastRelock)
	if devFromLock {
		s.devFromLockCnt++
	} else {
		s.devFromLockCnt = 0
	}

	display, _ := s.applyGates(out, conf, nowMs, fastRelock, level)

	s.updateAnchor(out, conf)

	return display
}

func (s *Stabilizer) triggerFastRelock(nowMs int64) {
	s.fastRelockDeadline = nowMs + fastRelockWindowMs
	s.hasAnchor = false
	s.stableVals.clear()

	if !s.fastRelockActive {
		s.logEvent("fast-relock: entered")
	}

	s.fastRelockActive = true
}

// correctHarmonics applies spec.md §4.3's anchor-based harmonic correction.
func (s *Stabilizer) correctHarmonics(raw float64) float64 {
	if !s.hasAnchor {
		return raw
	}

	candidates := harmonicCandidates(raw)
	rawErr := math.Abs(raw - s.anchorBPM)

	bestIdx := -1
	bestErr := math.Inf(1)

	for i := 1; i < len(candidates); i++ {
		c := candidates[i]
		if c < harmonicRangeLo || c > harmonicRangeHi {
			continue
		}

		err := math.Abs(c - s.anchorBPM)
		if err < bestErr {
			bestErr = err
			bestIdx = i
		}
	}

	if bestIdx >= 0 && bestErr+harmonicHysteresis < rawErr {
		s.logEvent(fmt.Sprintf("harmonic correction (kind=%s): raw=%.1f -> %.1f vs anchor=%.1f",
			harmonicKind(bestIdx), raw, candidates[bestIdx], s.anchorBPM))

		return candidates[bestIdx]
	}

	return raw
}

// octaveNormalize folds a value into [91,180] by repeated doubling/halving.
func octaveNormalize(v float64) float64 {
	for i := 0; i < octaveMaxFolds && (v < octaveRangeLo || v > octaveRangeHi); i++ {
		if v < octaveRangeLo {
			v *= 2
		} else {
			v *= 0.5
		}
	}

	return v
}

// smooth maintains stable_vals/EMA/alpha-beta per spec.md §4.3 "Smoothing".
func (s *Stabilizer) smooth(nowMs int64, disp, conf float64) float64 {
	vals := s.stableVals.within(nowMs, smoothWindowMs)
	med := median64(vals)

	if !s.hasEMA {
		s.ema = med
		s.hasEMA = true
	} else {
		s.ema = emaAlpha*s.ema + emaBeta*med
	}

	scale := abSHigh

	switch {
	case conf < abConfLow:
		scale = abSLow
	case conf < abConfMid:
		scale = abSMid
	}

	alpha := abAlphaBase * scale
	beta := abBetaBase * scale

	if !s.hasAB {
		s.abX = s.ema
		s.abV = 0
		s.hasAB = true
	}

	predicted := s.abX + s.abV*abDt
	residual := s.ema - predicted

	s.abX = predicted + alpha*residual
	s.abV = s.abV + (beta/abDt)*residual

	if conf < abConfMid {
		return s.abX
	}

	return disp
}

// handleNone implements spec.md §4.3 "None handling".
func (s *Stabilizer) handleNone(nowMs int64, fastRelock bool, level float64) Display {
	s.noneCnt++

	if s.noneCnt >= noneHopsRecovery {
		s.tracking = false
		s.everLocked = false
	}

	state := StateAnalyzing
	if s.everLocked {
		state = StateUncertain
	}

	bpm := 0.0
	if s.hasLastDisplay {
		bpm = s.lastDisplay.BPM
	}

	return Display{BPM: bpm, Confidence: 0, State: state, Level: level}
}

// updateAnchor implements spec.md §4.3 "Anchor update".
func (s *Stabilizer) updateAnchor(disp, conf float64) {
	if !s.tracking || conf < anchorConfMin {
		return
	}

	if s.hasAnchor {
		if disp >= anchorRangeLo && disp <= anchorRangeHi &&
			math.Abs(disp-s.anchorBPM)/s.anchorBPM <= anchorDriftFrac {
			s.anchorBPM = anchorEMAOld*s.anchorBPM + anchorEMANew*disp
		}

		return
	}

	if disp >= anchorRangeLo && disp <= anchorRangeHi {
		s.anchorBPM = disp
		s.hasAnchor = true
	}
}

// applyGates runs the three admissibility predicates from spec.md §4.3
// "Publish gates" and returns the display to publish, or the held
// previous display when none are admissible.
func (s *Stabilizer) applyGates(disp, conf float64, nowMs int64, fastRelock bool, level float64) (Display, bool) {
	need := softNeedNormal
	spanMs := int64(softSpanMsNormal)
	softThr := softThrNormal

	if fastRelock {
		need = softNeedFast
		spanMs = softSpanMsFast
		softThr = softThrFast
	}

	hardOK, hardVal := s.hardGate(disp, conf)

	softOK := false
	if !hardOK {
		softOK = s.softGate(disp, conf, nowMs, spanMs, need, softThr)
	}

	majOK, majMode := false, 0
	if !hardOK && !softOK {
		majOK, majMode = s.majorityGate(nowMs, need)
	}

	if !hardOK && !softOK && !majOK {
		if s.hasLastDisplay {
			out := s.lastDisplay
			out.Level = level

			return out, false
		}

		return Display{BPM: 0, Confidence: 0, State: StateAnalyzing, Level: level}, false
	}

	value := disp
	var state State

	switch {
	case hardOK:
		value = hardVal
		state = s.globalState()
	case softOK:
		state = StateUncertain

		if s.hasHardState && s.hasDisplayedInt && int(round(disp)) == s.displayedInt {
			state = s.lastHardState
		}
	case majOK:
		value = float64(majMode)
		state = StateUncertain
	}

	if mode, ok := s.majorityOverride(nowMs, need); ok {
		value = float64(mode)
	}

	confOut := clamp(conf, 0, confClampHi)
	display := Display{BPM: value, Confidence: confOut, State: state, Level: level}

	if state == StateTracking {
		s.lastHardState = state
		s.hasHardState = true
	}

	s.recentInts.push(nowMs, float64(int(round(value))))
	s.displayedInt = int(round(value))
	s.hasDisplayedInt = true

	s.lastDisplay = display
	s.hasLastDisplay = true

	return display, true
}

func (s *Stabilizer) globalState() State {
	if s.tracking {
		return StateTracking
	}

	if s.everLocked {
		return StateUncertain
	}

	return StateAnalyzing
}

func (s *Stabilizer) hardGate(disp, conf float64) (bool, float64) {
	if conf < hardConfMin {
		return false, disp
	}

	outlier, corrected := s.checkOutlier(disp)
	if outlier {
		return false, disp
	}

	return true, corrected
}

// checkOutlier implements spec.md §4.3's hard-gate outlier rule.
func (s *Stabilizer) checkOutlier(disp float64) (bool, float64) {
	if !s.everLocked {
		return false, disp
	}

	var base float64

	hasBase := false

	switch {
	case s.hasAnchor:
		base = s.anchorBPM
		hasBase = true
	case s.hasDisplayedInt:
		base = float64(s.displayedInt)
		hasBase = true
	}

	if !hasBase {
		return false, disp
	}

	if disp < octaveRangeLo || disp > octaveRangeHi {
		return true, disp
	}

	if base == 0 {
		return false, disp
	}

	if math.Abs(disp-base)/base <= hardOutlierFrac {
		return false, disp
	}

	for _, c := range harmonicCandidates(disp) {
		if math.Abs(c-base)/base <= hardHarmonicFrac {
			return false, c
		}
	}

	return true, disp
}

func (s *Stabilizer) softGate(disp, conf float64, nowMs, spanMs int64, need int, thr float64) bool {
	if conf < thr {
		return false
	}

	if disp < harmonicRangeLo || disp > octaveRangeHi {
		return false
	}

	vals := s.stableVals.within(nowMs, spanMs)

	return countNear(vals, disp, softNearTol) >= need
}

func (s *Stabilizer) majorityGate(nowMs int64, need int) (bool, int) {
	vals := s.recentIntsCand.within(nowMs, majoritySpanMs)

	mode, count := modeInt(vals)
	if mode < 0 || count < need {
		return false, 0
	}

	if s.hasDisplayedInt && mode == s.displayedInt {
		return false, 0
	}

	if float64(mode) < harmonicRangeLo || float64(mode) > octaveRangeHi {
		return false, 0
	}

	return true, mode
}

// majorityOverride implements spec.md §4.3's second majority check, which
// overrides the published value (not the state) after a gate has already
// admitted a hop.
func (s *Stabilizer) majorityOverride(nowMs int64, need int) (int, bool) {
	vals := s.recentIntsCand.within(nowMs, majorityOverrideMs)

	mode, count := modeInt(vals)
	if mode < 0 || count < need {
		return 0, false
	}

	if s.hasDisplayedInt && mode == s.displayedInt {
		return 0, false
	}

	return mode, true
}
