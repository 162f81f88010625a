package detector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/artifix/voicecore/internal/activation"
)

// Clap detects two sharp amplitude spikes above a loudness threshold
// separated by a gap within the configured window. A clap whose pairing
// window elapsed is discarded and timing restarts at the most recent clap
// (sliding window); after an emission the pairing state resets so
// back-to-back double claps are detectable.
type Clap struct {
	source  SampleSource
	emitter Emitter

	mu  sync.Mutex
	cfg Config

	// lastClap anchors the pairing window; zero means no pending clap.
	lastClap time.Time
	// above tracks whether we are inside a spike, so a sustained loud
	// stretch counts as one clap (edge-triggered).
	above bool
}

func NewClap(source SampleSource, emitter Emitter, cfg Config) (*Clap, error) {
	c := &Clap{source: source, emitter: emitter}
	if err := c.Configure(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Clap) Name() string { return "clap" }

func (c *Clap) Configure(cfg Config) error {
	if cfg.Threshold < 0 {
		return fmt.Errorf("%w: clap threshold %v must be non-negative", ErrConfigurationInvalid, cfg.Threshold)
	}
	if cfg.MaxGap <= 0 {
		return fmt.Errorf("%w: clap max gap %v must be positive", ErrConfigurationInvalid, cfg.MaxGap)
	}

	c.mu.Lock()
	c.cfg = cfg
	c.lastClap = time.Time{}
	c.above = false
	c.mu.Unlock()
	return nil
}

func (c *Clap) Run(ctx context.Context) error {
	for {
		s, err := c.source.NextSample(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if ev, ok := c.observe(s); ok {
			c.emitter.Submit(ev)
		}
	}
}

// observe consumes one amplitude sample and reports whether it completed
// a double clap.
func (c *Clap) observe(s Sample) (activation.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cfg.Enabled {
		c.lastClap = time.Time{}
		c.above = false
		return activation.Event{}, false
	}

	loud := s.RMS >= c.cfg.Threshold
	spike := loud && !c.above
	c.above = loud
	if !spike {
		return activation.Event{}, false
	}
	return c.clapAtLocked(s.At)
}

// clapAtLocked applies the pairing window to a single detected clap.
func (c *Clap) clapAtLocked(at time.Time) (activation.Event, bool) {
	if !c.lastClap.IsZero() {
		gap := at.Sub(c.lastClap)
		if gap >= 0 && gap <= c.cfg.MaxGap {
			c.lastClap = time.Time{}
			return activation.Event{
				Source:     activation.Clap,
				Confidence: 1.0,
				At:         at,
			}, true
		}
	}
	// First clap, or the previous one went stale: timing restarts here.
	c.lastClap = at
	return activation.Event{}, false
}
