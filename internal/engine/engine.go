// Package engine assembles the activation arbiter, the session machine,
// the feedback coordinator and the detector runners behind one facade.
// Collaborators (transcription, dispatch, synthesis) drive it through the
// session-scoped Feed/Notify calls; detectors feed it through the arbiter.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/artifix/voicecore/internal/activation"
	"github.com/artifix/voicecore/internal/detector"
	"github.com/artifix/voicecore/internal/feedback"
	"github.com/artifix/voicecore/internal/session"
)

type Engine struct {
	machine *session.Machine
	arbiter *activation.Arbiter
	coord   *feedback.Coordinator

	mu      sync.Mutex
	runners map[string]*detector.Runner
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	runCtx  context.Context
}

func New(cfg session.Config) *Engine {
	e := &Engine{
		machine: session.NewMachine(cfg),
		coord:   feedback.NewCoordinator(),
		runners: make(map[string]*detector.Runner),
	}
	e.arbiter = activation.NewArbiter(e.machine)
	e.machine.Subscribe(e.coord.ObserveSession)
	return e
}

// Emitter returns the sink detectors submit events and warnings to.
func (e *Engine) Emitter() detector.Emitter { return e.arbiter }

// RegisterDetector wraps det in a supervised runner. Must be called before
// Start.
func (e *Engine) RegisterDetector(det detector.Detector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runners[det.Name()] = detector.NewRunner(det, e.arbiter)
}

// Start launches the arbiter, the feedback renderer and every registered
// detector.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.runCtx = runCtx
	e.cancel = cancel

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.arbiter.Run(runCtx)
	}()
	go func() {
		defer e.wg.Done()
		e.coord.Run(runCtx)
	}()

	for name, r := range e.runners {
		r.Start(runCtx)
		log.Printf("detector %s started", name)
	}
}

// Stop cancels the active session, shuts the loops down and waits up to
// timeout for everything to drain.
func (e *Engine) Stop(timeout time.Duration) bool {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	runners := make([]*detector.Runner, 0, len(e.runners))
	for _, r := range e.runners {
		runners = append(runners, r)
	}
	e.mu.Unlock()

	if cancel == nil {
		return true
	}

	e.machine.CancelActive("shutting down")
	cancel()

	deadline := time.Now().Add(timeout)
	clean := true
	for _, r := range runners {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		if !r.Stop(remaining) {
			clean = false
		}
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Until(deadline)):
		clean = false
	}
	return clean
}

// OnActivation is the manual trigger. It competes against any detector
// events queued in the same instant and reports whether a session actually
// started.
func (e *Engine) OnActivation(source activation.Source, confidence float64) bool {
	return e.arbiter.Offer(activation.Event{
		Source:     source,
		Confidence: confidence,
		At:         time.Now(),
	})
}

// FeedUtterance hands a finished transcription to the session machine.
func (e *Engine) FeedUtterance(id, text string) {
	e.machine.FeedUtterance(id, text)
}

// FeedCancelPhrase cancels the session on a recognized stop phrase.
func (e *Engine) FeedCancelPhrase(id string) {
	e.machine.FeedCancelPhrase(id)
}

// NotifyProcessingDone marks the dispatcher finished; hasResponse decides
// whether a response will be spoken.
func (e *Engine) NotifyProcessingDone(id string, hasResponse bool) {
	e.machine.NotifyProcessingDone(id, hasResponse)
}

// NotifyResponseComplete marks speech playback finished.
func (e *Engine) NotifyResponseComplete(id string) {
	e.machine.NotifyResponseComplete(id)
}

// NotifyListeningTimeout expires a session that never produced an
// utterance.
func (e *Engine) NotifyListeningTimeout(id string) {
	e.machine.ExpireListening(id)
}

// CancelActive cancels whatever session is running.
func (e *Engine) CancelActive(reason string) {
	e.machine.CancelActive(reason)
}

// CurrentSession snapshots the active session, if any.
func (e *Engine) CurrentSession() (session.Session, bool) {
	return e.machine.Current()
}

// SubscribeSession registers for session transition snapshots.
func (e *Engine) SubscribeSession(obs session.Observer) {
	e.machine.Subscribe(obs)
}

// SubscribeFeedback registers a visualization sink.
func (e *Engine) SubscribeFeedback(fn func(feedback.State)) {
	e.coord.Subscribe(fn)
}

// SubscribeWarnings registers for detector fault notifications.
func (e *Engine) SubscribeWarnings(fn func(activation.Warning)) {
	e.arbiter.OnWarning(fn)
}

// SetAmplitude feeds the live input level to the visualizer.
func (e *Engine) SetAmplitude(rms float64) {
	e.coord.SetAmplitude(rms)
}

// ConfigureDetector applies new settings to a registered detector.
// Rejected settings leave the previous configuration in effect.
func (e *Engine) ConfigureDetector(name string, cfg detector.Config) error {
	r := e.runner(name)
	if r == nil {
		return fmt.Errorf("unknown detector %q", name)
	}
	return r.Configure(cfg)
}

// RearmDetector restarts a detector that disabled itself after a device
// fault. Returns false when the detector is unknown or not disabled.
func (e *Engine) RearmDetector(name string) bool {
	e.mu.Lock()
	r := e.runners[name]
	ctx := e.runCtx
	e.mu.Unlock()
	if r == nil || ctx == nil {
		return false
	}
	return r.Rearm(ctx)
}

// DetectorDisabled reports whether a detector has shut itself down.
func (e *Engine) DetectorDisabled(name string) bool {
	r := e.runner(name)
	return r != nil && r.Disabled()
}

// DiscardedEvents counts activation events dropped so far.
func (e *Engine) DiscardedEvents() int64 {
	return e.arbiter.Discarded()
}

func (e *Engine) runner(name string) *detector.Runner {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runners[name]
}
