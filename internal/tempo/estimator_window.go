package tempo

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// sliceResult is what analyzeSlice produces for one candidate window
// (either the "long" or the "short" slice in spec.md §4.1).
type sliceResult struct {
	bpm        float64
	conf       float64
	bestScore  float64
	meanScore  float64
	winSec     float64
}

// Per-slice analysis tuning. The autocorrelation lag search range is not
// set here: it comes from the minBPM/maxBPM arguments of analyzeSlice,
// which the Estimator takes from Options.
const (
	trimPeakFrac     = 0.03
	minTrimmedSec    = 1.6
	peakFloorFrac    = 0.14
	peakPercentile   = 0.35
	peakPromFrac     = 0.04
	peakPromDynFrac  = 0.15
	ioiCVMax         = 0.65
	peakinessMin     = 1.25
	densityMinPerSec = 0.20
	densityMaxPerSec = 14.0
	gridPriorSigma   = 0.32
	gridPriorGamma   = 0.30
	globalPriorMean  = 120.0
	globalPriorSigma = 50.0
	harmonicRatio    = 0.35
	harmonicPenalty  = 0.90
	ioiFuseTolerance = 0.008
	minBestScore     = 0.08
	minMargin        = 0.010
	minConfidence    = 0.05
	peakCountFloor   = 0.30
	stabilityFloor   = 0.40
)

// analyzeSlice runs the full per-slice pipeline from spec.md §4.1 steps
// 1-13 over one envelope slice (sampled at dsRate) and either returns a
// candidate estimate or reports rejection.
func analyzeSlice(slice []float64, minBPM, maxBPM float64) (sliceResult, bool) {
	trimmed := trimSilence(slice, trimPeakFrac)
	if float64(len(trimmed)) < minTrimmedSec*dsRate {
		return sliceResult{}, false
	}

	x := meanCenter(trimmed)
	windowed := window.Hann(x)

	abs := make([]float64, len(windowed))
	for i, v := range windowed {
		abs[i] = math.Abs(v)
	}

	peakMax := floats.Max(abs)
	pct35 := percentile(abs, peakPercentile)
	thr := math.Max(peakFloorFrac*peakMax, pct35)

	minSep := int(math.Round(dsRate * 60 / maxBPM))
	prominenceMin := math.Max(peakPromFrac*peakMax, peakPromDynFrac*thr)

	peaks := findPeaks(abs, minSep, thr, prominenceMin)
	if len(peaks) < 2 {
		return sliceResult{}, false
	}

	iois := ioiSamples(peaks)

	cv := coefVariation(iois)
	if cv > ioiCVMax {
		return sliceResult{}, false
	}

	p95 := percentile(abs, 0.95)
	p50 := percentile(abs, 0.50)

	if p50 <= 0 || p95/p50 < peakinessMin {
		return sliceResult{}, false
	}

	sliceSec := float64(len(windowed)) / dsRate
	density := float64(len(peaks)) / sliceSec

	if density < densityMinPerSec || density > densityMaxPerSec {
		return sliceResult{}, false
	}

	cropped := peakAlignedCrop(windowed, peaks, iois)
	if float64(len(cropped)) < minTrimmedSec*dsRate {
		cropped = windowed
	}

	lagMin := int(math.Round(dsRate * 60 / maxBPM))
	lagMax := int(math.Round(dsRate * 60 / minBPM))

	if lagMax >= len(cropped) {
		lagMax = len(cropped) - 1
	}

	if lagMin >= lagMax {
		return sliceResult{}, false
	}

	scores, corrs := scoreLags(cropped, lagMin, lagMax)

	bestIdx := argmax(scores)
	bestScore := scores[bestIdx]
	meanScore := floats.Sum(scores) / float64(len(scores))

	secondScore := secondBest(scores, bestIdx, minSep)

	bestLag := lagMin + bestIdx
	rPrimary := corrs[bestIdx]

	harmPenalty := 1.0

	rHalf := correlationAtLag(cropped, bestLag/2)
	rDouble := correlationAtLag(cropped, bestLag*2)

	if math.Min(rHalf, rDouble) < harmonicRatio*rPrimary {
		harmPenalty = harmonicPenalty
	}

	refinedLag := parabolicRefine(corrs, bestIdx, lagMin)

	bpm := 60 * dsRate / refinedLag

	medianIOI := median(iois)
	if medianIOI > 0 {
		ioiBPM := 60 * dsRate / medianIOI
		if bpm > 0 && math.Abs(bpm-ioiBPM)/bpm <= ioiFuseTolerance {
			bpm = (2*bpm + ioiBPM) / 3
		}
	}

	if bestScore < minBestScore {
		return sliceResult{}, false
	}

	margin := bestScore - secondScore
	if margin < minMargin {
		return sliceResult{}, false
	}

	ratio := bestScore / meanScore
	peakCountFactor := clamp(float64(len(peaks))/8, peakCountFloor, 1)
	stabilityFactor := clamp(1-cv, stabilityFloor, 1)

	conf := math.Pow(bestScore*math.Sqrt(ratio), 0.85) * harmPenalty *
		(0.5 + 0.5*peakCountFactor*stabilityFactor)

	if conf < minConfidence {
		return sliceResult{}, false
	}

	return sliceResult{
		bpm:       bpm,
		conf:      conf,
		bestScore: bestScore,
		meanScore: meanScore,
		winSec:    sliceSec,
	}, true
}

// trimSilence drops a leading/trailing run whose magnitude stays below
// trimPeakFrac of the slice's peak (spec.md §4.1 step 1 of per-slice analysis).
func trimSilence(x []float64, peakFrac float64) []float64 {
	if len(x) == 0 {
		return x
	}

	peak := 0.0
	for _, v := range x {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}

	if peak == 0 {
		return nil
	}

	thr := peakFrac * peak

	start := 0
	for start < len(x) && math.Abs(x[start]) < thr {
		start++
	}

	end := len(x)
	for end > start && math.Abs(x[end-1]) < thr {
		end--
	}

	return x[start:end]
}

func meanCenter(x []float64) []float64 {
	out := make([]float64, len(x))
	mean := floats.Sum(x) / float64(len(x))

	for i, v := range x {
		out[i] = v - mean
	}

	return out
}

func percentile(x []float64, q float64) float64 {
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)

	return stat.Quantile(q, stat.Empirical, sorted, nil)
}

// findPeaks returns indices of local maxima above thr, at least minSep
// samples apart, with prominence (drop to the nearer neighboring valley)
// at least promMin.
func findPeaks(x []float64, minSep int, thr, promMin float64) []int {
	var candidates []int

	for i := 1; i < len(x)-1; i++ {
		if x[i] < thr {
			continue
		}

		if x[i] < x[i-1] || x[i] < x[i+1] {
			continue
		}

		if peakProminence(x, i) < promMin {
			continue
		}

		candidates = append(candidates, i)
	}

	return enforceSeparation(x, candidates, minSep)
}

func peakProminence(x []float64, i int) float64 {
	leftMin := x[i]
	for j := i - 1; j >= 0 && x[j] <= x[i]; j-- {
		if x[j] < leftMin {
			leftMin = x[j]
		}
	}

	rightMin := x[i]
	for j := i + 1; j < len(x) && x[j] <= x[i]; j++ {
		if x[j] < rightMin {
			rightMin = x[j]
		}
	}

	base := leftMin
	if rightMin > base {
		base = rightMin
	}

	return x[i] - base
}

func enforceSeparation(x []float64, candidates []int, minSep int) []int {
	if len(candidates) == 0 {
		return nil
	}

	var kept []int

	for _, idx := range candidates {
		if len(kept) == 0 {
			kept = append(kept, idx)
			continue
		}

		last := kept[len(kept)-1]
		if idx-last >= minSep {
			kept = append(kept, idx)
			continue
		}

		if x[idx] > x[last] {
			kept[len(kept)-1] = idx
		}
	}

	return kept
}

func ioiSamples(peaks []int) []float64 {
	iois := make([]float64, 0, len(peaks)-1)
	for i := 1; i < len(peaks); i++ {
		iois = append(iois, float64(peaks[i]-peaks[i-1]))
	}

	return iois
}

func coefVariation(x []float64) float64 {
	if len(x) == 0 {
		return math.Inf(1)
	}

	mean, variance := stat.MeanVariance(x, nil)
	if mean == 0 {
		return math.Inf(1)
	}

	return math.Sqrt(variance) / mean
}

func median(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}

	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)

	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

// peakAlignedCrop keeps the slice from the first peak minus 0.75*median(IOI)
// to the last peak plus the same padding (spec.md §4.1 step 7).
func peakAlignedCrop(x []float64, peaks []int, iois []float64) []float64 {
	if len(peaks) == 0 {
		return x
	}

	pad := int(math.Round(0.75 * median(iois)))

	start := peaks[0] - pad
	if start < 0 {
		start = 0
	}

	end := peaks[len(peaks)-1] + pad
	if end > len(x) {
		end = len(x)
	}

	if start >= end {
		return x
	}

	return x[start:end]
}

// scoreLags computes the normalized autocorrelation and weighted score
// for every lag in [lagMin, lagMax] (spec.md §4.1 step 8).
func scoreLags(x []float64, lagMin, lagMax int) (scores, corrs []float64) {
	n := lagMax - lagMin + 1
	scores = make([]float64, n)
	corrs = make([]float64, n)

	for i := 0; i < n; i++ {
		lag := lagMin + i
		r := correlationAtLag(x, lag)
		corrs[i] = r

		bpm := 60 * dsRate / float64(lag)
		priorGlobal := math.Exp(-math.Pow(bpm-globalPriorMean, 2) / (2 * globalPriorSigma * globalPriorSigma))

		nearest := math.Round(bpm)
		delta := bpm - nearest
		gridMix := (1 - gridPriorGamma) + gridPriorGamma*math.Exp(-delta*delta/(2*gridPriorSigma*gridPriorSigma))

		scores[i] = r * (0.6 + 0.4*priorGlobal) * gridMix
	}

	return scores, corrs
}

// correlationAtLag computes r(lag) = sum(x[i]*x[i+lag]) / sqrt(sum(x[i]^2)*sum(x[i+lag]^2)),
// clamped to [0,1]. lag may be fractional-rounded by the caller; here it is an int sample lag.
func correlationAtLag(x []float64, lag int) float64 {
	if lag <= 0 || lag >= len(x) {
		return 0
	}

	a := x[:len(x)-lag]
	b := x[lag:]

	num := floats.Dot(a, b)
	denom := math.Sqrt(floats.Dot(a, a) * floats.Dot(b, b))

	if denom == 0 {
		return 0
	}

	return clamp(num/denom, 0, 1)
}

func argmax(x []float64) int {
	best := 0
	for i, v := range x {
		if v > x[best] {
			best = i
		}
	}

	return best
}

// secondBest returns the highest score among indices more than minSep
// away from the best index, used for the margin rejection gate.
func secondBest(scores []float64, bestIdx, minSep int) float64 {
	second := 0.0

	for i, v := range scores {
		if i >= bestIdx-minSep && i <= bestIdx+minSep {
			continue
		}

		if v > second {
			second = v
		}
	}

	return second
}

// parabolicRefine fits a parabola through the correlation values around
// bestIdx to sub-sample the best lag, returning the refined lag in samples.
func parabolicRefine(corrs []float64, bestIdx, lagMin int) float64 {
	lag := float64(lagMin + bestIdx)

	if bestIdx <= 0 || bestIdx >= len(corrs)-1 {
		return lag
	}

	left, center, right := corrs[bestIdx-1], corrs[bestIdx], corrs[bestIdx+1]

	denom := left - 2*center + right
	if denom == 0 {
		return lag
	}

	offset := 0.5 * (left - right) / denom

	return lag + offset
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}
