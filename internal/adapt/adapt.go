// Package adapt provides adaptive Opus bitrate selection and jitter buffer
// depth tuning for the streamclock demo's periodic adaptation loop.
package adapt

import "math"

// Ladder is the ordered list of Opus target bitrate steps in kbps, from
// barely-intelligible emergency quality up to high-fidelity voice.
var Ladder = []int{8, 12, 16, 24, 32, 48}

// DefaultKbps is the starting bitrate used when a config doesn't specify one.
const DefaultKbps = 32

// NextBitrate returns the next Opus target bitrate (kbps), given the
// encoder's current setting and the connection quality observed over the
// last measurement interval.
//
// Adaptation rules, checked in order:
//   - loss > 5%: step DOWN one rung.
//   - loss < 1% and 0 < rtt < 150 ms: step UP one rung.
//   - otherwise: hold the current rung.
//
// rttMs == 0 means no RTT measurement is available yet (the loopback demo
// never produces one); it is treated as "hold", not as "great link".
//
// The return value is always a member of Ladder.
func NextBitrate(current int, lossRate, rttMs float64) int {
	idx := nearestRungIndex(current)
	switch {
	case lossRate > 0.05 && idx > 0:
		return Ladder[idx-1]
	case lossRate < 0.01 && rttMs > 0 && rttMs < 150 && idx < len(Ladder)-1:
		return Ladder[idx+1]
	default:
		return Ladder[idx]
	}
}

// nearestRungIndex returns the index of the Ladder rung closest to kbps.
func nearestRungIndex(kbps int) int {
	best, bestDist := 0, iabs(kbps-Ladder[0])
	for i, step := range Ladder {
		if d := iabs(kbps - step); d < bestDist {
			bestDist, best = d, i
		}
	}
	return best
}

func iabs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// SmoothLoss applies exponentially weighted moving average smoothing to a
// raw packet loss measurement. alpha is the weight given to the new sample
// (0 = ignore new, 1 = ignore history); the adaptation loop uses 0.3.
func SmoothLoss(smoothed, raw, alpha float64) float64 {
	return alpha*raw + (1-alpha)*smoothed
}

const (
	// DefaultJitterDepth is used before any jitter measurement exists. One
	// 20 ms frame is optimistic for the demo's in-process loopback, where
	// real network jitter is absent; TargetJitterDepth will grow it within
	// a few adaptation cycles once measured jitter warrants it.
	DefaultJitterDepth = 1

	jitterFrameMs    = 20.0
	minJitterDepth   = 1
	maxJitterDepth   = 8
	lossDepthBonusAt = 0.05
)

// TargetJitterDepth computes the jitter buffer depth, in 20 ms frames, that
// should absorb the measured inter-arrival jitter (ms) and loss rate
// (0.0-1.0). This is the value the adaptation loop feeds to
// jitter.Buffer.SetDepth, whose DepthUSecs in turn drives
// interpolator.Interpolator.SetLatency — so this function indirectly sets
// the DLL's target latency.
//
// depth = ceil(jitterMs / 20) + 1, plus one more frame of headroom once loss
// exceeds 5%. Returns DefaultJitterDepth when jitterMs is 0 (no
// measurement). Result is clamped to [1, 8].
func TargetJitterDepth(jitterMs, lossRate float64) int {
	if jitterMs <= 0 {
		return DefaultJitterDepth
	}
	depth := int(math.Ceil(jitterMs/jitterFrameMs)) + 1
	if lossRate > lossDepthBonusAt {
		depth++
	}
	return clampJitterDepth(depth)
}

func clampJitterDepth(depth int) int {
	if depth < minJitterDepth {
		return minJitterDepth
	}
	if depth > maxJitterDepth {
		return maxJitterDepth
	}
	return depth
}
