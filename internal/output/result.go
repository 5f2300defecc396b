// Package output provides shared result serialization for cadence's
// JSON and JSONL surfaces: DisplayToMap for a display state and
// ReportRecordToMap for cmd/cadence-report's per-file records.
// cmd/cadence prints its live updates as plain text and does not use it.
package output

import "github.com/farcloser/cadence"

// DisplayToMap converts a display state into the canonical map structure
// used for JSON serialization.
func DisplayToMap(d cadence.DisplayState) map[string]any {
	return map[string]any{
		"bpm":        d.BPM,
		"confidence": d.Confidence,
		"state":      d.State.String(),
		"level":      d.Level,
	}
}

// ReportRecord is one file's converged-BPM result in a cadence-report run.
type ReportRecord struct {
	File       string
	BPM        float64
	Confidence float64
	State      string
	DeltaJumps int64
	ZeroRuns   int64
	Err        string
}

// ReportRecordToMap converts a report record into the canonical map
// structure used for JSONL serialization (one map per line).
func ReportRecordToMap(r ReportRecord) map[string]any {
	meta := map[string]any{
		"file": r.File,
	}

	if r.Err != "" {
		meta["error"] = r.Err

		return meta
	}

	meta["bpm"] = r.BPM
	meta["confidence"] = r.Confidence
	meta["state"] = r.State
	meta["delta_jumps"] = r.DeltaJumps
	meta["zero_runs"] = r.ZeroRuns

	return meta
}
