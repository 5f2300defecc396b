package cadence

import "github.com/farcloser/cadence/internal/capture"

// CaptureSource is the producer contract spec.md §6 describes: push mono
// float32 frames at a known sample rate; announce sample-rate changes
// on a separate channel before any frames at the new rate; close the
// queue on device loss. internal/capture/filesource and
// internal/capture/synthsource implement it.
type CaptureSource interface {
	// Queue returns the bounded frame queue the engine pulls from.
	Queue() *capture.Queue

	// SampleRateChanges returns the channel on which a new sample rate
	// is announced before frames at that rate arrive.
	SampleRateChanges() <-chan int
}
