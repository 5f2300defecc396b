package tempo

// timedValue pairs a value with the millisecond timestamp it was observed at.
type timedValue struct {
	t int64
	v float64
}

// ring is a time-windowed FIFO: values older than its window are dropped
// lazily on push; within filters by time but drops nothing. It backs
// stable_vals, recent_ints_cand, and
// recent_ints from spec.md §3.
type ring struct {
	items    []timedValue
	windowMs int64
}

func newRing(windowMs int64) *ring {
	return &ring{windowMs: windowMs}
}

func (r *ring) push(now int64, v float64) {
	r.items = append(r.items, timedValue{t: now, v: v})
	r.prune(now)
}

func (r *ring) prune(now int64) {
	cutoff := now - r.windowMs

	i := 0
	for i < len(r.items) && r.items[i].t < cutoff {
		i++
	}

	if i > 0 {
		r.items = r.items[i:]
	}
}

func (r *ring) clear() {
	r.items = r.items[:0]
}

// within returns the values pushed within the last spanMs of now.
func (r *ring) within(now, spanMs int64) []float64 {
	cutoff := now - spanMs

	var out []float64

	for _, it := range r.items {
		if it.t >= cutoff {
			out = append(out, it.v)
		}
	}

	return out
}

func median64(x []float64) float64 {
	return median(x)
}

// countNear returns how many values in vals lie within tol of target.
func countNear(vals []float64, target, tol float64) int {
	n := 0

	for _, v := range vals {
		if abs64(v-target) <= tol {
			n++
		}
	}

	return n
}

// modeInt returns the most frequent rounded integer among vals and its
// count; ties favor the first-seen value (insertion order of the ring).
func modeInt(vals []float64) (mode int, count int) {
	counts := make(map[int]int)
	order := make([]int, 0)

	for _, v := range vals {
		n := int(round(v))

		if _, ok := counts[n]; !ok {
			order = append(order, n)
		}

		counts[n]++
	}

	best := -1
	bestCount := 0

	for _, n := range order {
		if counts[n] > bestCount {
			best = n
			bestCount = counts[n]
		}
	}

	return best, bestCount
}

func abs64(x float64) float64 {
	if x < 0 {
		return -x
	}

	return x
}

func round(x float64) float64 {
	if x < 0 {
		return -round(-x)
	}

	return float64(int64(x + 0.5))
}

// harmonicCandidates returns raw and its four harmonic relatives, the
// same set used by both the anchor-correction step and the hard-gate
// outlier fallback (spec.md §4.3).
func harmonicCandidates(raw float64) [5]float64 {
	return [5]float64{raw, raw * 0.5, raw * 2, raw * 2 / 3, raw * 3 / 2}
}

// harmonicKind names the harmonic relationship at a harmonicCandidates
// index, used to tag `bpm_log` diagnostic lines (SPEC_FULL.md §12,
// "kind: dbl|half|2of3").
func harmonicKind(idx int) string {
	switch idx {
	case 1:
		return "half"
	case 2:
		return "dbl"
	default:
		return "2of3"
	}
}
