package interpolator

import "testing"

// mockClock is a MonotonicClock driven entirely by the test; it never reads
// real time so scenarios are fully deterministic.
type mockClock struct {
	now int64
}

func (c *mockClock) NowUsecs() int64 { return c.now }

// advance moves the mock clock forward by usecs.
func (c *mockClock) advance(usecs int64) { c.now += usecs }

// mockDiagnostics records every call instead of logging, so tests can assert
// on which diagnostic categories fired.
type mockDiagnostics struct {
	stateChanges []string
	rewinds      int
	underruns    int
	overruns     int
}

func (d *mockDiagnostics) StateChange(from, to State, reason string) {
	d.stateChanges = append(d.stateChanges, from.String()+"->"+to.String()+":"+reason)
}
func (d *mockDiagnostics) RewindWarning(last, computed int64) { d.rewinds++ }
func (d *mockDiagnostics) Underrun(read, queued int64)        { d.underruns++ }
func (d *mockDiagnostics) Overrun(tf float64, newPos0 int64)  { d.overruns++ }

func newTestInterpolator() (*Interpolator, *mockClock, *mockDiagnostics) {
	clock := &mockClock{}
	diag := &mockDiagnostics{}
	return New(clock, diag), clock, diag
}

// Scenario 1: cold start.
func TestColdStart(t *testing.T) {
	ip, clock, _ := newTestInterpolator()

	if got := ip.GetStreamUsecs(); got != 0 {
		t.Fatalf("fresh instance: GetStreamUsecs() = %d, want 0", got)
	}

	clock.advance(1000)
	ip.PostBuffer(20000)

	if ip.State() != StateRolling {
		t.Fatalf("state after first PostBuffer = %v, want ROLLING", ip.State())
	}
	if tf := ip.TimeFactor(); tf != 1.0 {
		t.Fatalf("Tf after startup = %v, want 1.0", tf)
	}

	got := ip.GetStreamUsecs()
	if got < -140000 || got > 20000 {
		t.Fatalf("GetStreamUsecs() after startup = %d, want in [-140000, 20000]", got)
	}
}

// Scenario 2: steady-state convergence.
func TestSteadyStateConvergence(t *testing.T) {
	ip, clock, _ := newTestInterpolator()
	ip.SetLatency(80000)

	var lastStream int64
	for i := 0; i < 40; i++ {
		clock.advance(20000)
		ip.PostBuffer(20000)
		if i > 14 {
			stream := ip.GetStreamUsecs()
			if i > 15 {
				delta := stream - lastStream
				if delta < 19000 || delta > 21000 {
					t.Fatalf("cycle %d: stream advanced by %d, want ~20000", i, delta)
				}
			}
			lastStream = stream
		}
	}

	if tf := ip.TimeFactor(); tf < 0.99 || tf > 1.01 {
		t.Fatalf("Tf after settling = %v, want within 0.01 of 1.0", tf)
	}
}

// Scenario 3: underrun.
func TestUnderrun(t *testing.T) {
	ip, clock, diag := newTestInterpolator()
	ip.SetLatency(80000)

	for i := 0; i < 20; i++ {
		clock.advance(20000)
		ip.PostBuffer(20000)
	}

	readPtr := ip.ReadPointer()
	clock.advance(2 * 80000)

	got := ip.GetStreamUsecs()
	if got != readPtr {
		t.Fatalf("GetStreamUsecs() after starvation = %d, want read pointer %d", got, readPtr)
	}
	if ip.State() != StateStopped {
		t.Fatalf("state after underrun = %v, want STOPPED", ip.State())
	}
	if tf := ip.TimeFactor(); tf != 0 {
		t.Fatalf("Tf after underrun = %v, want 0", tf)
	}
	if diag.underruns == 0 {
		t.Fatal("expected at least one Underrun diagnostic")
	}
}

// Scenario 4: overrun. A burst write posts far more media time than the
// clock has advanced; the oversized post first folds into queued via the
// aggregation test (it arrives too soon relative to its own volume), and the
// backlog only hits the DLL once a normal-sized post closes out the cycle —
// at which point the FIFO write pointer has leapt ahead of what Tf can track
// and the control law saturates.
func TestOverrun(t *testing.T) {
	ip, clock, diag := newTestInterpolator()
	ip.SetLatency(80000)

	for i := 0; i < 20; i++ {
		clock.advance(20000)
		ip.PostBuffer(20000)
	}

	clock.advance(5000)
	ip.PostBuffer(3_000_000) // dt (5000) << frameUsecs/4 (750000): aggregates

	if ip.UsecsQueued() != 3_020_000 {
		t.Fatalf("queued after burst post = %d, want 3020000", ip.UsecsQueued())
	}

	clock.advance(20000)
	ip.PostBuffer(20000) // backlog finally folds into read; DLL saturates

	if tf := ip.TimeFactor(); tf != 2.0 {
		t.Fatalf("Tf after overrun = %v, want 2.0 (clamped)", tf)
	}
	if ip.State() != StateRolling {
		t.Fatalf("state after overrun = %v, want ROLLING", ip.State())
	}
	if diag.overruns == 0 {
		t.Fatal("expected at least one Overrun diagnostic")
	}
}

// Scenario 5: pause/resume preserves position.
func TestPauseResumePreservesPosition(t *testing.T) {
	ip, clock, _ := newTestInterpolator()
	ip.SetLatency(80000)

	for i := 0; i < 10; i++ {
		clock.advance(20000)
		ip.PostBuffer(20000)
	}

	streamT := ip.GetStreamUsecs()
	ip.Pause(false)
	if ip.State() != StatePaused {
		t.Fatalf("state after Pause(false) = %v, want PAUSED", ip.State())
	}

	clock.advance(1_000_000)
	paused := ip.GetStreamUsecs()
	if paused != streamT {
		t.Fatalf("GetStreamUsecs() while paused = %d, want unchanged %d", paused, streamT)
	}

	ip.Resume()
	if ip.State() != StatePaused {
		t.Fatalf("state right after Resume() = %v, want still PAUSED", ip.State())
	}
	if got := ip.GetStreamUsecs(); got != streamT {
		t.Fatalf("GetStreamUsecs() between Resume and PostBuffer = %d, want %d", got, streamT)
	}

	clock.advance(20000)
	ip.PostBuffer(20000)
	if ip.State() != StateRolling {
		t.Fatalf("state after post-resume PostBuffer = %v, want ROLLING", ip.State())
	}
	if got := ip.GetStreamUsecs(); got < streamT {
		t.Fatalf("GetStreamUsecs() after resume = %d, want >= %d", got, streamT)
	}
}

// Scenario 6: seek during ROLLING.
func TestSeekDuringRolling(t *testing.T) {
	ip, clock, _ := newTestInterpolator()
	ip.SetLatency(160000)

	for i := 0; i < 10; i++ {
		clock.advance(20000)
		ip.PostBuffer(20000)
	}

	ip.Seek(5_000_000)
	if ip.State() != StateRolling {
		t.Fatalf("state after Seek during ROLLING = %v, want still ROLLING", ip.State())
	}

	got := ip.GetStreamUsecs()
	if got < 5_000_000-160000 || got > 5_000_000 {
		t.Fatalf("GetStreamUsecs() right after seek = %d, want in [%d, %d]", got, 5_000_000-160000, 5_000_000)
	}

	for i := 0; i < 10; i++ {
		clock.advance(20000)
		ip.PostBuffer(20000)
	}
	final := ip.GetStreamUsecs()
	if final < 5_000_000 {
		t.Fatalf("GetStreamUsecs() after seek convergence = %d, want >= 5000000", final)
	}
}

// Seek called while STOPPED repositions the frozen clock directly.
func TestSeekInStopped(t *testing.T) {
	ip, _, _ := newTestInterpolator()
	ip.Seek(42)
	if got := ip.GetStreamUsecs(); got != 42 {
		t.Fatalf("GetStreamUsecs() after Seek(42) from STOPPED = %d, want 42", got)
	}
	if ip.State() != StateStopped {
		t.Fatalf("state after Seek from STOPPED = %v, want STOPPED", ip.State())
	}
}

// Stop and Reset must be idempotent: calling twice in a row is a no-op.
func TestIdempotentStop(t *testing.T) {
	ip, clock, _ := newTestInterpolator()
	clock.advance(20000)
	ip.PostBuffer(20000)
	ip.Stop()
	first := ip.GetStreamUsecs()
	ip.Stop()
	second := ip.GetStreamUsecs()
	if first != second {
		t.Fatalf("stop(); stop() diverged: %d vs %d", first, second)
	}
}

func TestResetIdempotent(t *testing.T) {
	ip, clock, _ := newTestInterpolator()
	clock.advance(20000)
	ip.PostBuffer(20000)
	ip.Reset()
	first := ip.GetStreamUsecs()
	ip.Reset()
	second := ip.GetStreamUsecs()
	if first != second || first != 0 {
		t.Fatalf("reset(); reset() diverged or non-zero: %d vs %d", first, second)
	}
}

// Queue semantics on a non-aggregation, non-startup PostBuffer.
func TestQueueSemantics(t *testing.T) {
	ip, clock, _ := newTestInterpolator()
	ip.SetLatency(80000)

	clock.advance(20000)
	ip.PostBuffer(20000) // startup
	clock.advance(20000)
	ip.PostBuffer(20000) // first real cycle, queued becomes 20000 from startup's queued=0

	readBefore := ip.ReadPointer() - ip.UsecsQueued() // == ip.read
	queuedBefore := ip.UsecsQueued()

	clock.advance(20000)
	ip.PostBuffer(25000) // non-aggregation cycle: read should gain queuedBefore, queued becomes 25000

	if got := ip.UsecsQueued(); got != 25000 {
		t.Fatalf("queued after cycle = %d, want 25000", got)
	}
	readAfter := ip.ReadPointer() - ip.UsecsQueued()
	if readAfter != readBefore+queuedBefore {
		t.Fatalf("read after cycle = %d, want %d", readAfter, readBefore+queuedBefore)
	}
}

// Aggregation test: a callback firing much faster than the posted frame
// volume should fold into queued rather than spiking Tf.
func TestAggregationFoldsIntoQueued(t *testing.T) {
	ip, clock, _ := newTestInterpolator()
	ip.SetLatency(80000)

	clock.advance(20000)
	ip.PostBuffer(20000) // startup, queued = 0

	clock.advance(20000)
	ip.PostBuffer(20000) // first real cycle, queued = 20000

	// Fire again almost immediately: dt << frameUsecs/4.
	clock.advance(100)
	ip.PostBuffer(20000)

	if got := ip.UsecsQueued(); got != 40000 {
		t.Fatalf("queued after aggregated post = %d, want 40000", got)
	}
	if ip.State() != StateRolling {
		t.Fatalf("state after aggregation = %v, want ROLLING", ip.State())
	}
}

func TestIllegalResumeWhileRollingIsNoOp(t *testing.T) {
	ip, clock, diag := newTestInterpolator()
	clock.advance(20000)
	ip.PostBuffer(20000)

	tfBefore := ip.TimeFactor()
	changesBefore := len(diag.stateChanges)
	ip.Resume()
	if ip.State() != StateRolling {
		t.Fatalf("state after illegal Resume = %v, want unchanged ROLLING", ip.State())
	}
	if ip.TimeFactor() != tfBefore {
		t.Fatalf("Tf changed by illegal Resume: %v -> %v", tfBefore, ip.TimeFactor())
	}
	if len(diag.stateChanges) == changesBefore {
		t.Fatal("expected a StateChange diagnostic for the illegal resume")
	}
}

func TestSetLatencyNonPositiveResetsToDefault(t *testing.T) {
	ip, _, _ := newTestInterpolator()
	ip.SetLatency(5000)
	if got := ip.Latency(); got != 5000 {
		t.Fatalf("Latency() = %d, want 5000", got)
	}
	ip.SetLatency(0)
	if got := ip.Latency(); got != DefaultAudioLatency {
		t.Fatalf("Latency() after SetLatency(0) = %d, want default %d", got, DefaultAudioLatency)
	}
	ip.SetLatency(-1)
	if got := ip.Latency(); got != DefaultAudioLatency {
		t.Fatalf("Latency() after SetLatency(-1) = %d, want default %d", got, DefaultAudioLatency)
	}
}

func TestForciblyUpdateReadPointer(t *testing.T) {
	ip, clock, _ := newTestInterpolator()
	clock.advance(20000)
	ip.PostBuffer(20000)

	ip.ForciblyUpdateReadPointer(1_000_000)
	if got := ip.ReadPointer(); got != 1_000_000 {
		t.Fatalf("ReadPointer() after override = %d, want 1000000", got)
	}
}
