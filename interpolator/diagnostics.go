package interpolator

import "log"

// Diagnostics receives warnings about anomalies in the interpolator's DLL.
// All four methods are advisory only — the interpolator has already decided
// how to self-correct by the time any of them is called; a Diagnostics
// implementation must never block or panic, since it may be invoked from the
// realtime audio callback while the interpolator's mutex is held.
type Diagnostics interface {
	// StateChange traces a state-machine transition, e.g. "ROLLING -> STOPPED".
	StateChange(from, to State, reason string)
	// RewindWarning reports that GetStreamUsecs computed a value smaller than
	// the previously reported one. The violated value is still returned to
	// the caller; this is purely informational.
	RewindWarning(last, computed int64)
	// Underrun reports that the FIFO was starved: the reported stream time
	// caught the write pointer.
	Underrun(read, queued int64)
	// Overrun reports that Tf saturated at its upper bound because the FIFO
	// is being fed faster than the DLL expects.
	Overrun(tf float64, newPos0 int64)
}

// LogDiagnostics is the default Diagnostics implementation. It mirrors the
// bracketed-tag logging convention used throughout this codebase and writes
// to the standard library's default logger.
type LogDiagnostics struct{}

func (LogDiagnostics) StateChange(from, to State, reason string) {
	log.Printf("[interpolator] state %s -> %s (%s)", from, to, reason)
}

func (LogDiagnostics) RewindWarning(last, computed int64) {
	log.Printf("[interpolator] rewind: computed=%d < last=%d", computed, last)
}

func (LogDiagnostics) Underrun(read, queued int64) {
	log.Printf("[interpolator] underrun: read=%d queued=%d", read, queued)
}

func (LogDiagnostics) Overrun(tf float64, newPos0 int64) {
	log.Printf("[interpolator] overrun: Tf=%.3f pos0=%d", tf, newPos0)
}

// NopDiagnostics discards all diagnostics. Useful in tests and in hot paths
// where even a disabled logger's formatting cost is unwelcome.
type NopDiagnostics struct{}

func (NopDiagnostics) StateChange(from, to State, reason string) {}
func (NopDiagnostics) RewindWarning(last, computed int64)        {}
func (NopDiagnostics) Underrun(read, queued int64)               {}
func (NopDiagnostics) Overrun(tf float64, newPos0 int64)         {}
