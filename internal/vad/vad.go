// Package vad implements an energy-based voice activity detector for mono
// float32 PCM audio, used by the streamclock demo's capture loop to decide
// which frames are worth encoding and sending onward.
//
// A frame counts as speech when its RMS level exceeds a configurable
// threshold. A hangover counter keeps the detector reporting speech for a
// fixed number of frames after the last one that crossed the threshold, so a
// trailing word doesn't get clipped the instant energy dips.
package vad

import "math"

const (
	// DefaultThreshold is the RMS level below which a frame is silence
	// (~-46 dBFS): low enough to pass quiet speech, high enough to reject
	// open-mic hum.
	DefaultThreshold = float32(0.005)

	// DefaultHangover is how many silent frames keep reporting speech after
	// the last one that crossed threshold (~400 ms at 20 ms/frame).
	DefaultHangover = 20
)

// VAD is a single-channel voice activity detector. The zero value is not
// usable; construct with New.
type VAD struct {
	enabled   bool
	threshold float32
	hangover  int // configured hangover length, in frames
	remaining int // hangover frames left before silence is reported
}

// New returns an enabled VAD with DefaultThreshold and DefaultHangover.
func New() *VAD {
	return &VAD{
		enabled:   true,
		threshold: DefaultThreshold,
		hangover:  DefaultHangover,
	}
}

// Enabled reports whether the VAD is currently enabled.
func (v *VAD) Enabled() bool {
	return v.enabled
}

// SetEnabled enables or disables the VAD. While disabled, both ShouldSend
// and ShouldSendProb always report speech (pass-through).
func (v *VAD) SetEnabled(enabled bool) {
	v.enabled = enabled
	if !enabled {
		v.remaining = 0
	}
}

// SetThreshold sets the RMS silence threshold from a [0, 100] sensitivity
// level, linearly mapped to an RMS range of [0.001, 0.05]. Lower levels are
// more sensitive (pass quieter speech); higher levels suppress more.
func (v *VAD) SetThreshold(level int) {
	if level < 0 {
		level = 0
	} else if level > 100 {
		level = 100
	}
	v.threshold = 0.001 + float32(level)/100.0*0.049
}

// Reset clears the hangover counter without touching threshold or enabled.
func (v *VAD) Reset() {
	v.remaining = 0
}

// ShouldSend reports whether a frame with the given RMS energy should be
// transmitted, advancing the hangover counter as a side effect.
func (v *VAD) ShouldSend(rms float32) bool {
	return v.decide(rms > v.threshold)
}

// ShouldSendProb is ShouldSend for a model-derived voice probability
// (0.0-1.0) in place of RMS energy, for VAD signals from something more
// accurate than an energy threshold (e.g. RNNoise). Treats prob > 0.5 as
// speech.
func (v *VAD) ShouldSendProb(prob float32) bool {
	return v.decide(prob > 0.5)
}

// decide holds the hangover state machine shared by both entry points.
func (v *VAD) decide(isSpeech bool) bool {
	if !v.enabled {
		return true
	}
	if isSpeech {
		v.remaining = v.hangover
		return true
	}
	if v.remaining > 0 {
		v.remaining--
		return true
	}
	return false
}

// RMS returns the root-mean-square level of a float32 PCM frame.
func RMS(frame []float32) float32 {
	if len(frame) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range frame {
		sumSq += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sumSq / float64(len(frame))))
}
