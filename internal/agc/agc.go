// Package agc implements automatic gain control for mono float32 PCM audio,
// applied to captured frames just before they're handed to the VAD gate and
// Opus encoder in the streamclock demo's capture loop.
//
// Each frame's RMS level is measured and a multiplicative gain is driven
// toward a target level using independent attack (gain down) and release
// (gain up) time constants, so loud transients are tamed quickly while quiet
// stretches recover smoothly rather than pumping.
package agc

import "streamclock/internal/vad"

const (
	// DefaultTarget is the desired RMS level (linear, ~-14 dBFS).
	DefaultTarget = 0.20

	// MinGain/MaxGain bound the gain multiplier to ±20 dB so silence is
	// never amplified without limit.
	MinGain = 0.1
	MaxGain = 10.0

	// AttackCoeff/ReleaseCoeff set the asymmetric smoothing, applied once
	// per frame (20 ms at 48 kHz/960-sample frames): attack moves the gain
	// 80% of the way to its new estimate within a single frame, release is
	// deliberately much slower to avoid audible pumping.
	AttackCoeff  = 0.80
	ReleaseCoeff = 0.02

	// silenceFloor suppresses gain updates below the noise floor, so the
	// AGC doesn't try to boost silence up to target.
	silenceFloor = 0.001
)

// AGC is a single-channel automatic gain control processor. The zero value
// is not usable; construct with New.
type AGC struct {
	target float64 // desired RMS level, [0.0, 1.0]
	gain   float64 // current linear gain multiplier
}

// New returns an AGC at DefaultTarget with unity gain.
func New() *AGC {
	return &AGC{target: DefaultTarget, gain: 1.0}
}

// Gain returns the current linear gain multiplier. Informational.
func (a *AGC) Gain() float64 { return a.gain }

// Reset restores unity gain without touching the configured target.
func (a *AGC) Reset() { a.gain = 1.0 }

// SetTarget sets the desired RMS level from a [0, 100] level, linearly
// mapped to [0.01, 0.50].
func (a *AGC) SetTarget(level int) {
	if level < 0 {
		level = 0
	} else if level > 100 {
		level = 100
	}
	a.target = 0.01 + float64(level)/100.0*0.49
}

// Process applies the current gain to frame in-place, then re-estimates the
// gain from the frame's RMS for the next call. Returns frame for chaining.
func (a *AGC) Process(frame []float32) []float32 {
	if len(frame) == 0 {
		return frame
	}

	rms := float64(vad.RMS(frame))
	applyGain(frame, a.gain)

	if rms < silenceFloor {
		// Near-silence: leave the gain estimate alone rather than chase the
		// noise floor toward target.
		return frame
	}

	desired := clampGain(a.target / rms)
	coeff := ReleaseCoeff
	if desired < a.gain {
		coeff = AttackCoeff
	}
	a.gain += coeff * (desired - a.gain)

	return frame
}

func applyGain(frame []float32, gain float64) {
	g := float32(gain)
	for i, s := range frame {
		v := s * g
		switch {
		case v > 1.0:
			v = 1.0
		case v < -1.0:
			v = -1.0
		}
		frame[i] = v
	}
}

func clampGain(g float64) float64 {
	if g < MinGain {
		return MinGain
	}
	if g > MaxGain {
		return MaxGain
	}
	return g
}
