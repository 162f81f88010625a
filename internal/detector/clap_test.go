package detector

import (
	"context"
	"testing"
	"time"
)

// sampleChanSource feeds amplitude samples from a channel.
type sampleChanSource struct {
	ch chan Sample
}

func (s *sampleChanSource) NextSample(ctx context.Context) (Sample, error) {
	select {
	case <-ctx.Done():
		return Sample{}, ctx.Err()
	case smp, ok := <-s.ch:
		if !ok {
			return Sample{}, ErrDeviceUnavailable
		}
		return smp, nil
	}
}

func clapConfig() Config {
	return Config{Enabled: true, Threshold: 0.5, MaxGap: 2 * time.Second}
}

func newTestClap(t *testing.T) *Clap {
	t.Helper()
	c, err := NewClap(&sampleChanSource{}, &fakeEmitter{}, clapConfig())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// clapAt injects an isolated spike: one loud sample followed by a quiet
// one so the edge trigger resets.
func clapAt(c *Clap, at time.Time) (emitted bool) {
	_, ok := c.observe(Sample{RMS: 0.9, At: at})
	c.observe(Sample{RMS: 0.0, At: at.Add(10 * time.Millisecond)})
	return ok
}

func TestDoubleClapWithinWindow(t *testing.T) {
	base := time.Now()
	tests := []struct {
		name string
		gap  time.Duration
		want bool
	}{
		{"ImmediatePair", 50 * time.Millisecond, true},
		{"OneSecondGap", time.Second, true},
		{"ExactlyAtWindowMax", 2 * time.Second, true},
		{"JustPastWindow", 2*time.Second + time.Millisecond, false},
		{"WellPastWindow", 5 * time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClap(t)
			if clapAt(c, base) {
				t.Fatal("single clap must not emit")
			}
			if got := clapAt(c, base.Add(tt.gap)); got != tt.want {
				t.Errorf("pair with gap %s emitted=%v, want %v", tt.gap, got, tt.want)
			}
		})
	}
}

func TestSingleClapNeverEmits(t *testing.T) {
	c := newTestClap(t)
	if clapAt(c, time.Now()) {
		t.Fatal("single clap emitted an event")
	}
}

// A stale first clap is discarded and timing restarts at the most recent
// clap: claps at t=0 and t=2.5 (window 2.0) form no pair, but the clap at
// t=2.5 anchors a new window, so a third clap at t=3.0 completes a pair.
func TestStaleClapSlidesWindow(t *testing.T) {
	base := time.Now()
	c := newTestClap(t)

	if clapAt(c, base) {
		t.Fatal("first clap emitted")
	}
	if clapAt(c, base.Add(2500*time.Millisecond)) {
		t.Fatal("stale pair emitted")
	}
	if !clapAt(c, base.Add(3*time.Second)) {
		t.Fatal("third clap 0.5s after the restarted anchor should emit")
	}
}

func TestBackToBackDoubleClaps(t *testing.T) {
	base := time.Now()
	c := newTestClap(t)

	clapAt(c, base)
	if !clapAt(c, base.Add(time.Second)) {
		t.Fatal("first pair should emit")
	}

	// State must have reset: the next two claps form an independent pair.
	if clapAt(c, base.Add(3*time.Second)) {
		t.Fatal("third clap must not pair with the emitted second clap")
	}
	if !clapAt(c, base.Add(4*time.Second)) {
		t.Fatal("second pair should emit")
	}
}

// A sustained loud stretch is one clap, not many: the spike is detected on
// the rising edge only.
func TestSustainedLoudnessIsOneClap(t *testing.T) {
	base := time.Now()
	c := newTestClap(t)

	for i := 0; i < 10; i++ {
		if _, ok := c.observe(Sample{RMS: 0.9, At: base.Add(time.Duration(i) * 10 * time.Millisecond)}); ok {
			t.Fatal("sustained loudness emitted an event")
		}
	}

	// Drop below and spike again within the window: now it pairs.
	c.observe(Sample{RMS: 0.1, At: base.Add(200 * time.Millisecond)})
	if _, ok := c.observe(Sample{RMS: 0.9, At: base.Add(300 * time.Millisecond)}); !ok {
		t.Fatal("second distinct spike should complete the pair")
	}
}

func TestQuietSamplesIgnored(t *testing.T) {
	c := newTestClap(t)
	base := time.Now()
	for i := 0; i < 5; i++ {
		if _, ok := c.observe(Sample{RMS: 0.2, At: base.Add(time.Duration(i) * time.Second)}); ok {
			t.Fatal("sub-threshold sample emitted an event")
		}
	}
}

func TestClapDisabledResetsState(t *testing.T) {
	c := newTestClap(t)
	base := time.Now()
	clapAt(c, base)

	cfg := clapConfig()
	cfg.Enabled = false
	if err := c.Configure(cfg); err != nil {
		t.Fatal(err)
	}
	if clapAt(c, base.Add(time.Second)) {
		t.Fatal("disabled detector emitted an event")
	}

	cfg.Enabled = true
	if err := c.Configure(cfg); err != nil {
		t.Fatal(err)
	}
	// Pairing state was cleared; a fresh pair is required.
	if clapAt(c, base.Add(1200*time.Millisecond)) {
		t.Fatal("clap before re-enable must not anchor a pair")
	}
	if !clapAt(c, base.Add(2*time.Second)) {
		t.Fatal("fresh pair after re-enable should emit")
	}
}

func TestClapConfigValidation(t *testing.T) {
	if _, err := NewClap(&sampleChanSource{}, &fakeEmitter{}, Config{Enabled: true, Threshold: -1, MaxGap: time.Second}); err == nil {
		t.Error("negative threshold should be rejected")
	}
	if _, err := NewClap(&sampleChanSource{}, &fakeEmitter{}, Config{Enabled: true, Threshold: 0.5}); err == nil {
		t.Error("zero max gap should be rejected")
	}
}

func TestClapRunEmitsThroughEmitter(t *testing.T) {
	src := &sampleChanSource{ch: make(chan Sample, 8)}
	em := &fakeEmitter{}
	c, err := NewClap(src, em, clapConfig())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	base := time.Now()
	src.ch <- Sample{RMS: 0.9, At: base}
	src.ch <- Sample{RMS: 0.0, At: base.Add(50 * time.Millisecond)}
	src.ch <- Sample{RMS: 0.9, At: base.Add(time.Second)}

	deadline := time.Now().Add(2 * time.Second)
	for em.eventCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := em.eventCount(); got != 1 {
		t.Fatalf("emitted %d events, want 1", got)
	}
}
