// Package viz renders the waveform visualization packet spec.md §6
// defines: samples down-sampled to a fixed bucket count plus a
// silence-gated RMS, published alongside (not part of) the tempo
// pipeline. The per-bucket running sum-of-squares accumulator is
// grounded on the teacher's windowed-RMS silence detector.
package viz

import "math"

// Buckets is the fixed output length of a visualization packet.
const Buckets = 192

// SilenceGate is the RMS below which a packet is reported as silent.
const SilenceGate = 0.015

// Packet is one down-sampled waveform frame for the UI consumer.
type Packet struct {
	Samples [Buckets]float32
	RMS     float64
	Silent  bool
}

// Downsample reduces window (any length) to a Buckets-length peak
// envelope: each bucket holds the largest-magnitude sample in its span,
// which preserves transient shape far better than averaging. RMS is
// computed over the full window and clamped to [0,1].
func Downsample(window []float64) Packet {
	var pkt Packet

	n := len(window)
	if n == 0 {
		return pkt
	}

	span := float64(n) / float64(Buckets)

	var sumSq float64

	for b := 0; b < Buckets; b++ {
		start := int(float64(b) * span)
		end := int(float64(b+1) * span)

		if end > n {
			end = n
		}

		if start >= end {
			continue
		}

		var peak float64

		for _, s := range window[start:end] {
			sumSq += s * s

			if math.Abs(s) > math.Abs(peak) {
				peak = s
			}
		}

		pkt.Samples[b] = float32(peak)
	}

	rms := math.Sqrt(sumSq / float64(n))
	pkt.RMS = clamp01(rms)
	pkt.Silent = rms < SilenceGate

	return pkt
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
