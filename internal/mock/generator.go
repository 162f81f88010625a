// Package mock drives the engine with scripted conversations so the
// websocket UI can be developed without a microphone or speech models.
package mock

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/artifix/voicecore/internal/activation"
	"github.com/artifix/voicecore/internal/engine"
)

type step struct {
	delay time.Duration
	run   func(e *engine.Engine)
}

type MockGenerator struct {
	engine *engine.Engine
	steps  []step
}

func NewGenerator(eng *engine.Engine) *MockGenerator {
	g := &MockGenerator{engine: eng}
	g.steps = g.script()
	return g
}

// script is one full demo cycle: a wake-word conversation with a
// follow-up turn, a clap activation that gets cancelled by voice, an
// activation attempt while busy, and a session that expires in
// processing silence.
func (g *MockGenerator) script() []step {
	sessionID := func() string {
		if s, ok := g.engine.CurrentSession(); ok {
			return s.ID
		}
		return ""
	}

	return []step{
		// Wake-word conversation, two turns.
		{0, func(e *engine.Engine) {
			e.Emitter().Submit(activation.Event{Source: activation.WakeWord, Confidence: 0.92, At: time.Now()})
		}},
		{400 * time.Millisecond, func(e *engine.Engine) {
			e.FeedUtterance(sessionID(), "what's the weather like")
		}},
		{1200 * time.Millisecond, func(e *engine.Engine) {
			e.NotifyProcessingDone(sessionID(), true)
		}},
		{1500 * time.Millisecond, func(e *engine.Engine) {
			e.NotifyResponseComplete(sessionID())
		}},
		{800 * time.Millisecond, func(e *engine.Engine) {
			e.FeedUtterance(sessionID(), "and tomorrow")
		}},
		{900 * time.Millisecond, func(e *engine.Engine) {
			e.NotifyProcessingDone(sessionID(), true)
		}},
		{1200 * time.Millisecond, func(e *engine.Engine) {
			e.NotifyResponseComplete(sessionID())
		}},
		{600 * time.Millisecond, func(e *engine.Engine) {
			e.FeedUtterance(sessionID(), "never mind")
		}},

		// Clap activation, cancelled by a spoken stop phrase.
		{2 * time.Second, func(e *engine.Engine) {
			e.Emitter().Submit(activation.Event{Source: activation.Clap, Confidence: 1.0, At: time.Now()})
		}},
		{500 * time.Millisecond, func(e *engine.Engine) {
			e.FeedUtterance(sessionID(), "play some music")
		}},
		{700 * time.Millisecond, func(e *engine.Engine) {
			e.FeedCancelPhrase(sessionID())
		}},

		// Activation while a session is running is silently discarded.
		{time.Second, func(e *engine.Engine) {
			e.Emitter().Submit(activation.Event{Source: activation.WakeWord, Confidence: 0.88, At: time.Now()})
		}},
		{300 * time.Millisecond, func(e *engine.Engine) {
			e.Emitter().Submit(activation.Event{Source: activation.Clap, Confidence: 1.0, At: time.Now()})
		}},
		{500 * time.Millisecond, func(e *engine.Engine) {
			e.NotifyListeningTimeout(sessionID())
		}},

		// A session whose dispatcher never answers: the processing
		// timeout (or the next cycle) cleans it up.
		{2 * time.Second, func(e *engine.Engine) {
			e.OnActivation(activation.Manual, 1.0)
		}},
		{400 * time.Millisecond, func(e *engine.Engine) {
			e.FeedUtterance(sessionID(), "do something complicated")
		}},
		{3 * time.Second, func(e *engine.Engine) {
			e.CancelActive("demo cycle restart")
		}},
	}
}

// Start runs the script in a loop until ctx is cancelled, feeding a
// synthetic amplitude wave alongside so the listening visualization has
// something to show.
func (g *MockGenerator) Start(ctx context.Context) {
	log.Printf("Mock generator started: %d scripted steps per cycle", len(g.steps))

	go g.amplitudeLoop(ctx)
	go func() {
		for {
			for _, st := range g.steps {
				select {
				case <-ctx.Done():
					return
				case <-time.After(st.delay):
				}
				st.run(g.engine)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}
		}
	}()
}

func (g *MockGenerator) amplitudeLoop(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var phase float64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			phase += 0.35
			g.engine.SetAmplitude(0.4 + 0.35*math.Sin(phase))
		}
	}
}
