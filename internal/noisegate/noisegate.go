// Package noisegate implements a hard noise gate for mono float32 PCM audio,
// run ahead of AGC and VAD in the streamclock demo's capture loop so neither
// stage has to deal with a noisy floor.
//
// Frames with RMS below the configured threshold are zeroed entirely. A
// short hold period keeps the gate open across brief dips so it doesn't chop
// speech during a mid-sentence pause.
package noisegate

import "streamclock/internal/vad"

const (
	// DefaultThreshold is the RMS level below which audio is gated (~-40 dBFS).
	DefaultThreshold = float32(0.01)

	// DefaultHold is how many frames the gate stays open once the signal
	// has dropped below threshold (200 ms at 20 ms/frame).
	DefaultHold = 10
)

// Gate is a hard noise gate. The zero value is not usable; construct with
// New.
type Gate struct {
	enabled   bool
	threshold float32
	hold      int // configured hold length, in frames
	remaining int // hold frames left before the gate closes
	open      bool
}

// New returns an enabled Gate with DefaultThreshold and DefaultHold.
func New() *Gate {
	return &Gate{
		enabled:   true,
		threshold: DefaultThreshold,
		hold:      DefaultHold,
	}
}

// Enabled reports whether the gate is currently enabled.
func (g *Gate) Enabled() bool {
	return g.enabled
}

// SetEnabled enables or disables the gate. Process is a no-op while disabled.
func (g *Gate) SetEnabled(enabled bool) {
	g.enabled = enabled
	if !enabled {
		g.remaining = 0
		g.open = false
	}
}

// Threshold returns the current RMS threshold (linear amplitude).
func (g *Gate) Threshold() float32 {
	return g.threshold
}

// SetThreshold sets the RMS gate threshold from a [0, 100] level, linearly
// mapped to [0.001, 0.10]. Lower levels open the gate more easily.
func (g *Gate) SetThreshold(level int) {
	if level < 0 {
		level = 0
	} else if level > 100 {
		level = 100
	}
	g.threshold = 0.001 + float32(level)/100.0*0.099
}

// IsOpen reports whether the gate is currently passing audio.
func (g *Gate) IsOpen() bool {
	return g.open
}

// Reset clears the hold counter and closes the gate without touching
// threshold or enabled.
func (g *Gate) Reset() {
	g.remaining = 0
	g.open = false
}

// Process applies the gate to frame in-place, zeroing it if RMS is below
// threshold and the hold period has expired. Returns the pre-gate RMS, which
// a caller can use for a level meter even on a zeroed frame.
func (g *Gate) Process(frame []float32) float32 {
	rms := vad.RMS(frame)

	if !g.enabled {
		g.open = true
		return rms
	}

	switch {
	case rms >= g.threshold:
		g.remaining = g.hold
		g.open = true
	case g.remaining > 0:
		g.remaining--
		g.open = true
	default:
		for i := range frame {
			frame[i] = 0
		}
		g.open = false
	}

	return rms
}
