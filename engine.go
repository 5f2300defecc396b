package cadence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/farcloser/cadence/internal/capture"
	"github.com/farcloser/cadence/internal/tempo"
	"github.com/farcloser/cadence/internal/viz"
)

// logLineCap bounds the bpm_log ring buffer (SPEC_FULL.md §12, "a bounded
// ring buffer of the last 64 lines").
const logLineCap = 64

// stallTimeout is the "transient capture stall" threshold from spec.md §7:
// after this long without a frame, the engine publishes a zeroed display
// and resets tracking without tearing anything down.
const stallTimeout = 1500 * time.Millisecond

// queueReceiveTimeout is the analyzer's poll interval against the bounded
// frame queue (spec.md §5, "pulls from the queue with a 20 ms timeout").
const queueReceiveTimeout = 20 * time.Millisecond

// eventBuffer is the push-event channel capacity; Subscribe is
// single-subscriber and coalescing, so a small buffer plus drop-on-full
// is correct rather than a defect (spec.md §6).
const eventBuffer = 8

// EventKind tags an Event pushed to a Subscribe channel.
type EventKind int

const (
	EventBPMUpdate EventKind = iota
	EventVizUpdate
	EventLogLine
)

// Event is one push-surface message (spec.md §6 "Push events").
type Event struct {
	Kind    EventKind
	Display DisplayState
	Viz     VizUpdate
	Log     LogLine
}

// Engine wires the capture/windowing adapter, the loudness normalizer,
// the tempo estimator, and the display stabilizer into the three-thread
// model spec.md §5 describes. The capture thread is whatever goroutine
// drives the CaptureSource; Engine itself runs the analyzer thread.
type Engine struct {
	opts Options

	sr int

	window     *capture.Window
	normalizer *tempo.Normalizer
	estimator  *tempo.Estimator
	stabilizer *tempo.Stabilizer
	dropouts   *capture.DropoutCounter

	displayMu sync.Mutex
	display   DisplayState
	hasShown  bool

	resetRequested atomic.Bool

	lastDrops int64

	logMu   sync.Mutex
	logLine []LogLine

	started atomic.Bool
	done    chan struct{}

	subMu sync.Mutex
	subs  []chan Event
}

// New builds an unstarted engine. opts' zero value uses DefaultOptions.
func New(opts Options) *Engine {
	applyDefaults(&opts)

	return &Engine{opts: opts, done: make(chan struct{})}
}

// Done returns a channel closed once the analyzer loop has returned
// (source exhausted, its queue closed, or ctx done). Callers that need
// a final DropoutStats/Current snapshot should wait on it after the
// capture source itself finishes producing.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// DropoutStats reports the delta-jump and zero-run counters accumulated
// since the last reset or SR change (spec.md §7 diagnostics). Safe to
// call only after Done() is closed; the analyzer owns these counters
// while running.
func (e *Engine) DropoutStats() (deltaJumps, zeroRuns int64) {
	if e.dropouts == nil {
		return 0, 0
	}

	return e.dropouts.DeltaJumps, e.dropouts.ZeroRuns
}

// Start spawns the analyzer loop over source, once. Subsequent calls are
// idempotent no-ops (spec.md §6, "start_capture — idempotent"). It does
// not block; the loop runs until ctx is done or source's queue closes.
func (e *Engine) Start(ctx context.Context, source CaptureSource) error {
	if !e.started.CompareAndSwap(false, true) {
		return nil
	}

	go e.run(ctx, source)

	return nil
}

// Stop acknowledges a stop request. Lifecycle is owned by the caller's
// context, not by Engine (spec.md §6, "stop_capture — no-op acknowledged").
func (e *Engine) Stop() {}

// Reset sets the reset flag; the analyzer clears all state at the top of
// its next hop and publishes a zeroed display (spec.md §6, "reset_backend").
func (e *Engine) Reset() {
	e.resetRequested.Store(true)
}

// Current is the pull interface (spec.md §6, "get_current_bpm"). ok is
// false until the first display has been published.
func (e *Engine) Current() (DisplayState, bool) {
	e.displayMu.Lock()
	defer e.displayMu.Unlock()

	return e.display, e.hasShown
}

// Subscribe returns a coalescing push-event channel (spec.md §6,
// "single-subscriber, coalescing acceptable"). Each call adds a new
// subscriber; sends never block, dropping the event on a full channel.
func (e *Engine) Subscribe() <-chan Event {
	ch := make(chan Event, eventBuffer)

	e.subMu.Lock()
	e.subs = append(e.subs, ch)
	e.subMu.Unlock()

	return ch
}

func (e *Engine) run(ctx context.Context, source CaptureSource) {
	defer close(e.done)

	lastData := time.Now()
	haveData := false
	stalled := false

	for {
		select {
		case <-ctx.Done():
			return
		case sr, ok := <-source.SampleRateChanges():
			if !ok {
				continue
			}

			slog.Debug("cadence: sample rate changed, rebuilding", "sr", sr)
			e.appendLog("SR change: rebuilding for %d Hz", sr)

			e.rebuild(sr)
			e.publishZeroed()

			continue
		default:
		}

		if e.resetRequested.CompareAndSwap(true, false) {
			slog.Debug("cadence: explicit reset requested")

			e.resetState()
			e.publishZeroed()
		}

		e.checkQueueDrops(source.Queue())

		frame, err := source.Queue().Receive(ctx, queueReceiveTimeout)

		switch {
		case err == nil:
			lastData = time.Now()
			haveData = true
			stalled = false

			e.ingest(frame.Samples)
		case errors.Is(err, context.DeadlineExceeded):
			if haveData && !stalled && time.Since(lastData) >= stallTimeout {
				stalled = true

				slog.Debug("cadence: transient capture stall detected", "timeout", stallTimeout)

				e.resetState()
				e.publishZeroed()
			}
		case errors.Is(err, capture.ErrClosed):
			return
		case errors.Is(err, context.Canceled):
			return
		default:
			return
		}
	}
}

// checkQueueDrops logs and records a bpm_log line whenever the capture
// queue has dropped additional frames since the last check (spec.md §7,
// "Queue full on capture side").
func (e *Engine) checkQueueDrops(q *capture.Queue) {
	drops := q.DroppedCount()
	if drops <= e.lastDrops {
		return
	}

	added := drops - e.lastDrops
	e.lastDrops = drops

	slog.Debug("cadence: capture queue dropped frames", "dropped", added, "total", drops)
	e.appendLog("queue full: dropped %d frame(s) (total %d)", added, drops)
}

// rebuild tears down and recreates every SR-dependent component (spec.md
// §4.4, "If the queue reports a new sample rate, it rebuilds the
// estimator and all SR-dependent coefficients, clears all state").
func (e *Engine) rebuild(sr int) {
	slog.Debug("cadence: rebuilding SR-dependent state", "sr", sr)

	e.sr = sr
	e.window = capture.NewWindow(float64(sr))
	e.normalizer = tempo.NewNormalizer(float64(sr))
	e.estimator = tempo.NewEstimator(float64(sr), e.opts.MinBPM, e.opts.MaxBPM)
	e.stabilizer = tempo.NewStabilizer()
	e.dropouts = &capture.DropoutCounter{}
}

// resetState clears all analyzer-owned state without rebuilding
// SR-dependent coefficients (spec.md §5, "Resets are soft").
func (e *Engine) resetState() {
	if e.window == nil {
		return
	}

	slog.Debug("cadence: resetting analyzer state")

	e.window.Reset()
	e.normalizer.Reset()
	e.estimator.Reset()
	e.stabilizer.Reset()
	e.dropouts.Reset()
}

// ingest pushes one capture buffer through the windowing adapter,
// emitting a visualization packet for it, and runs a full analysis hop
// whenever the window FIFO completes (spec.md §4.4).
func (e *Engine) ingest(samples []float32) {
	if e.window == nil {
		return
	}

	e.dropouts.Observe(samples)
	e.window.Push(samples)
	e.publishViz(samples)

	for {
		win, ok := e.window.Next()
		if !ok {
			return
		}

		e.hop(win)
	}
}

// hop runs one complete normalize -> estimate -> stabilize pass over a
// 2 s analysis window and publishes the resulting display.
func (e *Engine) hop(window []float64) {
	normalized, rms := e.normalizer.Process(window)

	est, ok := e.estimator.Push(normalized, rms)

	disp := e.stabilizer.Process(est, ok, rms, nowMs())

	for _, msg := range e.stabilizer.TakeEvents() {
		slog.Debug("cadence: " + msg)
		e.appendLog("%s", msg)
	}

	e.publishDisplay(DisplayState{
		BPM:        disp.BPM,
		Confidence: disp.Confidence,
		State:      State(disp.State),
		Level:      disp.Level,
	})
}

func (e *Engine) publishZeroed() {
	e.publishDisplay(DisplayState{})
}

func (e *Engine) publishDisplay(d DisplayState) {
	e.displayMu.Lock()
	e.display = d
	e.hasShown = true
	e.displayMu.Unlock()

	e.emit(Event{Kind: EventBPMUpdate, Display: d})
}

func (e *Engine) publishViz(samples []float32) {
	win := make([]float64, len(samples))
	for i, s := range samples {
		win[i] = float64(s)
	}

	pkt := viz.Downsample(win)

	rms := pkt.RMS
	if pkt.Silent {
		rms = 0
	}

	e.emit(Event{Kind: EventVizUpdate, Viz: VizUpdate{Samples: pkt.Samples, RMS: rms}})
}

// LogLines returns a snapshot of the bpm_log ring buffer, oldest first
// (SPEC_FULL.md §12, "a bounded ring buffer of the last 64 lines").
func (e *Engine) LogLines() []LogLine {
	e.logMu.Lock()
	defer e.logMu.Unlock()

	out := make([]LogLine, len(e.logLine))
	copy(out, e.logLine)

	return out
}

// appendLog records one bpm_log line, trims the ring to logLineCap, and
// emits it on the push-event surface.
func (e *Engine) appendLog(format string, args ...any) {
	line := LogLine{TimeMs: nowMs(), Msg: fmt.Sprintf(format, args...)}

	e.logMu.Lock()
	e.logLine = append(e.logLine, line)

	if n := len(e.logLine); n > logLineCap {
		e.logLine = e.logLine[n-logLineCap:]
	}

	e.logMu.Unlock()

	e.emit(Event{Kind: EventLogLine, Log: line})
}

func (e *Engine) emit(ev Event) {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
