// Package dsp provides the small streaming filter primitives the tempo
// pipeline is built from: one-pole IIR high/low pass sections and their
// running state, in the same state/process shape as a biquad filter.
package dsp

import "math"

// OnePole is a one-pole IIR filter coefficient paired with its running
// state. Coefficients follow alpha = exp(-2*pi*fc/sr); callers pick
// HighPass or LowPass to get the correct update rule for that alpha.
type OnePole struct {
	alpha float64
	y     float64 // low-pass state
	prevX float64 // previous input; cleared by Reset, not read by LowPass or HighPass
}

// Alpha computes the one-pole IIR coefficient for a cutoff frequency fc
// at sample rate sr: alpha = exp(-2*pi*fc/sr).
func Alpha(fc, sr float64) float64 {
	return math.Exp(-2 * math.Pi * fc / sr)
}

// NewLowPass returns a one-pole low-pass filter with the given cutoff.
func NewLowPass(fc, sr float64) *OnePole {
	return &OnePole{alpha: Alpha(fc, sr)}
}

// NewHighPass returns a one-pole high-pass filter with the given cutoff.
func NewHighPass(fc, sr float64) *OnePole {
	return &OnePole{alpha: Alpha(fc, sr)}
}

// LowPass advances the low-pass state by one sample and returns the
// filtered output: y[n] = alpha*y[n-1] + (1-alpha)*x[n].
func (p *OnePole) LowPass(x float64) float64 {
	p.y = p.alpha*p.y + (1-p.alpha)*x
	return p.y
}

// HighPass advances the high-pass state by one sample. It is built from
// the complementary low-pass: y[n] = x[n] - lowpass(x)[n].
func (p *OnePole) HighPass(x float64) float64 {
	p.y = p.alpha*p.y + (1-p.alpha)*x
	return x - p.y
}

// Reset zeroes the filter's running state without changing its coefficient.
func (p *OnePole) Reset() {
	p.y = 0
	p.prevX = 0
}

// Smoother is an asymmetric one-pole used for gain smoothing, where the
// attack and release coefficients differ (spec.md's normalizer gain
// smoothing, attack 0.25 / release 0.08).
type Smoother struct {
	attack  float64
	release float64
	value   float64
}

// NewSmoother builds an asymmetric smoother with the given attack/release
// coefficients (0..1, larger = faster).
func NewSmoother(attack, release float64) *Smoother {
	return &Smoother{attack: attack, release: release}
}

// Step advances the smoother toward target, using the attack coefficient
// when rising and the release coefficient when falling.
func (s *Smoother) Step(target float64) float64 {
	if target > s.value {
		s.value += s.attack * (target - s.value)
	} else {
		s.value += s.release * (target - s.value)
	}

	return s.value
}

// Reset sets the smoother's value directly, clearing any in-flight ramp.
func (s *Smoother) Reset(value float64) {
	s.value = value
}

// Value returns the smoother's current value without stepping it.
func (s *Smoother) Value() float64 {
	return s.value
}
