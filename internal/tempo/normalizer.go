package tempo

import (
	"math"

	"github.com/farcloser/cadence/internal/dsp"
)

const (
	normTargetDBFS    = -18.0
	normCeilingHigh   = 42.0
	normCeilingLow    = 18.0
	normFloorDB       = -12.0
	normRhythmGate    = 0.25
	normAttack        = 0.25
	normRelease       = 0.08
	normSoftClipK     = 1.2
	normSilenceLevel  = 0.03
)

// Normalizer runs the sidechain loudness normalizer spec.md §4.2
// describes: it never touches the visualization branch, only the copy
// of the analysis window fed to the estimator.
type Normalizer struct {
	sidechainHP *dsp.OnePole
	sidechainLP *dsp.OnePole
	gain        *dsp.Smoother
}

// NewNormalizer builds a normalizer for sample rate sr.
func NewNormalizer(sr float64) *Normalizer {
	return &Normalizer{
		sidechainHP: dsp.NewHighPass(60, sr),
		sidechainLP: dsp.NewLowPass(180, sr),
		gain:        dsp.NewSmoother(normAttack, normRelease),
	}
}

// Reset clears all normalizer state, used on SR change or explicit reset.
func (n *Normalizer) Reset() {
	n.sidechainHP.Reset()
	n.sidechainLP.Reset()
	n.gain.Reset(0)
}

// Process takes a copy of the 2 s analysis window and returns the
// gain-normalized, soft-clipped signal plus the window RMS it measured.
func (n *Normalizer) Process(window []float64) (out []float64, rms float64) {
	rms = rmsOf(window)

	level := clamp((20*math.Log10(math.Max(rms, 1e-9))+60)/60, 0, 1)
	if rms == 0 {
		level = 0
	}

	sidechain := make([]float64, len(window))
	for i, x := range window {
		sidechain[i] = n.sidechainLP.LowPass(n.sidechainHP.HighPass(x))
	}

	sidechainRMS := rmsOf(sidechain)

	rhythmRatio := 0.0
	if rms > 0 {
		rhythmRatio = sidechainRMS / rms
	}

	if level < normSilenceLevel {
		n.gain.Reset(0)
	} else {
		currentDB := -120.0
		if rms > 0 {
			currentDB = 20 * math.Log10(rms)
		}

		ceiling := normCeilingLow
		if rhythmRatio >= normRhythmGate {
			ceiling = normCeilingHigh
		}

		desired := clamp(normTargetDBFS-currentDB, normFloorDB, ceiling)
		n.gain.Step(desired)
	}

	gainLinear := math.Pow(10, n.gain.Value()/20)

	out = make([]float64, len(window))
	for i, x := range window {
		out[i] = softClip(x*gainLinear, normSoftClipK)
	}

	return out, rms
}

func softClip(x, k float64) float64 {
	return math.Tanh(k*x) / k
}

func rmsOf(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}

	var sumSq float64
	for _, v := range x {
		sumSq += v * v
	}

	return math.Sqrt(sumSq / float64(len(x)))
}
