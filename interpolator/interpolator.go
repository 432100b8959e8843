// Package interpolator implements a monotonic, microsecond-resolution
// stream clock for a FIFO-backed audio sink whose long-term throughput is
// approximately constant.
//
// An Interpolator turns the bursty, discrete buffer-delivery callbacks of an
// audio HAL into a smooth time source suitable for driving media
// synchronization (e.g. audio-video lip-sync). The control law is a
// first-order delay-locked loop (DLL) over buffer-posting events, after
// F. Adriaensen, "Using a DLL to Filter Time" (2005): persistent bias in
// posting cadence is absorbed into the time-scale factor Tf; transient
// jitter is averaged over the configured latency window.
//
// The realtime audio thread is expected to call PostBuffer at the start of
// every callback; any number of other goroutines may call GetStreamUsecs or
// the trivial accessors concurrently. All exported methods are safe for
// concurrent use.
package interpolator

import "sync"

// DefaultAudioLatency is the FIFO depth assumed when no latency has been
// configured, or when SetLatency is called with a non-positive value.
// 160,000 µs = 4 × 20 ms buffers, doubled for conservative headroom — the
// typical shape of a HAL's internal buffer chain.
const DefaultAudioLatency int64 = 160000

// minInitialOffsetUsecs floors the startup offset computed in PostBuffer's
// startup branch. Empirical; do not remove even when latency/2 would be
// smaller — very-low-latency configurations still need this much headroom
// to avoid an immediate underrun on the first few callbacks.
const minInitialOffsetUsecs int64 = 40000

// State is one of the Interpolator's three lifecycle states.
type State int

const (
	// StateStopped is the initial state: the clock is frozen and the FIFO is
	// conceptually flushed.
	StateStopped State = iota
	// StateRolling is the state in which the clock advances under DLL control.
	StateRolling
	// StatePaused freezes the clock while preserving FIFO state.
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateRolling:
		return "ROLLING"
	case StatePaused:
		return "PAUSED"
	default:
		return "UNKNOWN"
	}
}

// Interpolator is a single stateful DLL-driven stream clock. The zero value
// is not usable; construct one with New.
type Interpolator struct {
	mu    sync.Mutex
	clock MonotonicClock
	diag  Diagnostics

	state State

	tf      float64 // time-scale factor; ~1.0 in steady state, clamped to [0.5, 2.0] while ROLLING
	t0      int64   // system-clock epoch of the current control cycle
	pos0    int64   // media position corresponding to t0
	read    int64   // media time folded into the FIFO through the previous PostBuffer
	queued  int64   // media time submitted in the most recent PostBuffer, not yet folded into read
	latency int64   // configured FIFO depth in microseconds
	last    int64   // last value returned by GetStreamUsecs; used for monotonicity diagnostics
	nowLast int64   // system time at which last was computed (diagnostic only)
}

// New returns an Interpolator in StateStopped with pos0 = read = 0, queued =
// 0, Tf = 0, last = 0 and latency = DefaultAudioLatency.
//
// A nil clock defaults to a freshly anchored SystemClock. A nil diag
// defaults to LogDiagnostics{}.
func New(clock MonotonicClock, diag Diagnostics) *Interpolator {
	if clock == nil {
		clock = NewSystemClock()
	}
	if diag == nil {
		diag = LogDiagnostics{}
	}
	return &Interpolator{
		clock:   clock,
		diag:    diag,
		state:   StateStopped,
		latency: DefaultAudioLatency,
	}
}

// State returns the current lifecycle state.
func (ip *Interpolator) State() State {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return ip.state
}

// TimeFactor returns the current DLL time-scale factor. Informational only.
func (ip *Interpolator) TimeFactor() float64 {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return ip.tf
}

// SetLatency sets the configured FIFO depth. A non-positive value resets the
// latency to DefaultAudioLatency. Safe to call in any state; takes effect on
// the next control cycle. Does not itself trigger a state change.
func (ip *Interpolator) SetLatency(usecs int64) {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	if usecs > 0 {
		ip.latency = usecs
	} else {
		ip.latency = DefaultAudioLatency
	}
}

// Latency returns the configured FIFO depth in microseconds.
func (ip *Interpolator) Latency() int64 {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return ip.latency
}

// UsecsQueued returns the media time submitted in the most recent PostBuffer
// but not yet folded into the cumulative read pointer.
func (ip *Interpolator) UsecsQueued() int64 {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return ip.queued
}

// ReadPointer returns the media time of the most recently written byte,
// read + queued.
func (ip *Interpolator) ReadPointer() int64 {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return ip.read + ip.queued
}

// ForciblyUpdateReadPointer overrides the cumulative read pointer so that
// read + queued == p. Diagnostic/override use only.
func (ip *Interpolator) ForciblyUpdateReadPointer(p int64) {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	ip.read = p - ip.queued
}

// Seek forcibly repositions the stream to mediaTime. The state machine is
// unchanged: STOPPED/PAUSED remain so with the clock frozen at mediaTime;
// ROLLING keeps rolling but re-anchors its epoch so the FIFO is treated as
// freshly primed at mediaTime.
func (ip *Interpolator) Seek(mediaTime int64) {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	ip.seekLocked(ip.clock.NowUsecs(), mediaTime)
}

func (ip *Interpolator) seekLocked(now, mediaTime int64) {
	switch ip.state {
	case StateRolling:
		ip.read = mediaTime
		ip.pos0 = ip.read - ip.latency
		ip.queued = 0
		ip.t0 = now
		ip.tf = 1.0
		ip.last = ip.pos0
	default: // StateStopped, StatePaused
		ip.pos0 = mediaTime
		ip.read = mediaTime
		ip.queued = 0
		ip.t0 = now
		ip.tf = 0
		ip.last = mediaTime
	}
}

// Pause freezes the clock. If flushingFifo is true this is equivalent to
// Stop(): the FIFO is treated as flushed and the stream re-anchors at
// read+queued. Otherwise, in StateRolling, the clock freezes at the last
// reported position and the state becomes StatePaused; in any other state
// this is a no-op.
func (ip *Interpolator) Pause(flushingFifo bool) {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	ip.pauseLocked(flushingFifo)
}

func (ip *Interpolator) pauseLocked(flushingFifo bool) {
	if flushingFifo {
		mediaTime := ip.read + ip.queued
		ip.setState(StateStopped, "flush")
		ip.seekLocked(ip.clock.NowUsecs(), mediaTime)
		return
	}
	if ip.state != StateRolling {
		return
	}
	now := ip.clock.NowUsecs()
	ip.read += ip.queued
	ip.pos0 = ip.last
	ip.t0 = now
	ip.queued = 0
	ip.setState(StatePaused, "pause")
}

// Stop is equivalent to Pause(true).
func (ip *Interpolator) Stop() {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	ip.pauseLocked(true)
}

// Resume prepares a paused stream to roll again: it sets a fresh epoch and
// unity time-scale factor. It is only meaningful while StatePaused; calling
// it otherwise is an illegal transition and is logged and ignored. The
// transition to StateRolling itself only happens on the next PostBuffer —
// GetStreamUsecs called between Resume and that PostBuffer still returns
// pos0, since the state is still StatePaused.
func (ip *Interpolator) Resume() {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	if ip.state != StatePaused {
		ip.diag.StateChange(ip.state, ip.state, "illegal resume")
		return
	}
	ip.t0 = ip.clock.NowUsecs()
	ip.tf = 1.0
}

// Reset is equivalent to Stop() followed by Seek(0).
func (ip *Interpolator) Reset() {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	ip.pauseLocked(true)
	ip.seekLocked(ip.clock.NowUsecs(), 0)
}

func (ip *Interpolator) setState(newState State, reason string) {
	if newState == ip.state {
		return
	}
	old := ip.state
	ip.state = newState
	ip.diag.StateChange(old, newState, reason)
}

// PostBuffer is the DLL update. Call it at the start of every audio callback
// with the media time just submitted to the FIFO.
func (ip *Interpolator) PostBuffer(frameUsecs int64) {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	now := ip.clock.NowUsecs()

	switch ip.state {
	case StateStopped:
		initialOffset := ip.latency / 2
		if initialOffset < minInitialOffsetUsecs {
			initialOffset = minInitialOffsetUsecs
		}
		ip.t0 = now
		ip.setState(StateRolling, "startup")
		ip.read += frameUsecs
		ip.pos0 = ip.read - initialOffset
		ip.queued = 0
		ip.tf = 1.0

	case StatePaused:
		ip.setState(StateRolling, "resume")
		ip.advanceCycle(now, frameUsecs, true)

	case StateRolling:
		ip.advanceCycle(now, frameUsecs, false)
	}
}

// advanceCycle runs the aggregation test and, if it passes, one DLL control
// cycle. forceUnity implements the resume branch's "set_Tf_to_unity" flag:
// the error term is ignored and Tf is pinned to 1.0 for this cycle only.
func (ip *Interpolator) advanceCycle(now, frameUsecs int64, forceUnity bool) {
	t1 := now
	dt := t1 - ip.t0

	// Aggregation test: the callback is firing unusually quickly relative to
	// the volume of data being posted. Fold the sample into the current
	// cycle instead of destabilizing the DLL with back-to-back writes.
	if dt < frameUsecs/4 {
		ip.queued += frameUsecs
		return
	}

	ip.read += ip.queued
	pos1 := ip.pos0 + int64(ip.tf*float64(dt))
	pos1Desired := ip.read - ip.latency
	e := pos1 - pos1Desired

	if forceUnity {
		e = 0
		ip.tf = 1.0
	} else {
		ip.tf = 1.0 - float64(e)/float64(ip.latency)
	}

	ip.pos0 = pos1
	ip.t0 = t1
	ip.queued = frameUsecs

	if ip.tf >= 2.0 {
		ip.tf = 2.0
		ip.errOverrun(t1)
	} else if ip.tf < 0.5 {
		ip.tf = 0.5
	}

	if ip.pos0 >= ip.read {
		ip.errUnderrun()
	}
}

// errOverrun handles Tf saturating at its upper bound: the FIFO is receiving
// data faster than the DLL expects. The epoch snaps forward; the state
// remains StateRolling. This relaxes the monotonicity guarantee for the next
// GetStreamUsecs call, but only because the caller's own write pattern
// already violated the stability precondition (over a window about one
// latency long, posted media time must track elapsed wall-clock time).
func (ip *Interpolator) errOverrun(now int64) {
	ip.pos0 = ip.read - ip.latency
	ip.t0 = now
	ip.diag.Overrun(ip.tf, ip.pos0)
}

// errUnderrun handles the FIFO going empty, whether detected from
// GetStreamUsecs catching the write pointer or from PostBuffer computing
// pos0 >= read. The stream freezes at read and the state becomes
// StateStopped; the next PostBuffer restarts via the startup branch.
func (ip *Interpolator) errUnderrun() {
	ip.diag.Underrun(ip.read, ip.queued)
	ip.read += ip.queued
	ip.tf = 0
	ip.pos0 = ip.read
	ip.queued = 0
	ip.setState(StateStopped, "underrun")
}

// GetStreamUsecs returns the current media time. Successive calls return
// non-decreasing values as long as postings keep up with the configured
// latency; outside that region the result may rewind, which is reported via
// Diagnostics.RewindWarning but still returned.
func (ip *Interpolator) GetStreamUsecs() int64 {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	now := ip.clock.NowUsecs()

	if ip.state == StatePaused {
		return ip.pos0
	}

	elapsed := ip.tf * float64(now-ip.t0)
	if elapsed < 0 {
		elapsed = 0
	}
	t := ip.pos0 + int64(elapsed)

	if t < ip.last {
		ip.diag.RewindWarning(ip.last, t)
	}

	if t >= ip.read+ip.queued && ip.state == StateRolling {
		t = ip.read + ip.queued
		ip.errUnderrun()
	}

	ip.last = t
	ip.nowLast = now
	return t
}
