package activation

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
)

// Gate decides whether a winning event may start a session. Implemented by
// the session machine; must be safe for concurrent use.
type Gate interface {
	TryStart(Event) bool
}

// Arbiter merges events from all detectors and the manual trigger into a
// single stream, and admits at most one session at a time through the gate.
// Events arriving while a session is active are discarded, never surfaced
// as errors.
type Arbiter struct {
	gate     Gate
	events   chan Event
	warnings chan Warning

	// resolveMu serializes arbitration so two batches cannot interleave
	// their winner selection.
	resolveMu sync.Mutex

	mu        sync.Mutex
	onWarning []func(Warning)

	discarded atomic.Int64
}

func NewArbiter(gate Gate) *Arbiter {
	return &Arbiter{
		gate:     gate,
		events:   make(chan Event, 64),
		warnings: make(chan Warning, 16),
	}
}

// Submit offers a detector event to the arbiter. It never blocks: when the
// queue is full the event is discarded and counted.
func (a *Arbiter) Submit(ev Event) {
	select {
	case a.events <- ev:
	default:
		a.discarded.Add(1)
	}
}

// Offer submits ev together with everything already queued in the same
// tick and reports whether ev itself won arbitration and started a
// session. Used by the manual trigger, which needs a synchronous answer.
func (a *Arbiter) Offer(ev Event) bool {
	a.resolveMu.Lock()
	defer a.resolveMu.Unlock()

	// Queued events arrived first; ev competes against them on priority.
	batch := append(a.drainQueued(), ev)
	winner, started := a.resolveLocked(batch)
	return started && winner == ev
}

// ReportWarning forwards a detector fault to warning subscribers. Never
// blocks; warnings are dropped if the queue is full.
func (a *Arbiter) ReportWarning(w Warning) {
	select {
	case a.warnings <- w:
	default:
	}
}

// OnWarning registers a subscriber for detector warnings.
func (a *Arbiter) OnWarning(fn func(Warning)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onWarning = append(a.onWarning, fn)
}

// Discarded returns the number of events dropped so far: arbitration
// losers, session-conflict rejections and queue overflow.
func (a *Arbiter) Discarded() int64 {
	return a.discarded.Load()
}

// Run consumes the merged stream until ctx is cancelled.
func (a *Arbiter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.events:
			a.resolveMu.Lock()
			batch := append([]Event{ev}, a.drainQueued()...)
			a.resolveLocked(batch)
			a.resolveMu.Unlock()
		case w := <-a.warnings:
			a.fanOutWarning(w)
		}
	}
}

// drainQueued collects every event already queued so that events arriving
// in the same scheduling tick compete against each other.
func (a *Arbiter) drainQueued() []Event {
	var batch []Event
	for {
		select {
		case ev := <-a.events:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
}

// resolveLocked picks exactly one winner (source priority, then arrival
// order) and offers it to the gate. Caller must hold resolveMu.
func (a *Arbiter) resolveLocked(batch []Event) (Event, bool) {
	winner := batch[0]
	for _, ev := range batch[1:] {
		if ev.Source.Priority() > winner.Source.Priority() {
			winner = ev
		}
	}

	if !a.gate.TryStart(winner) {
		// Session already active; the whole batch is discarded.
		a.discarded.Add(int64(len(batch)))
		log.Printf("activation: discarded %s event, session active", winner.Source)
		return winner, false
	}
	if losers := len(batch) - 1; losers > 0 {
		a.discarded.Add(int64(losers))
	}
	return winner, true
}

func (a *Arbiter) fanOutWarning(w Warning) {
	a.mu.Lock()
	subs := make([]func(Warning), len(a.onWarning))
	copy(subs, a.onWarning)
	a.mu.Unlock()

	log.Printf("detector %s: %s", w.Detector, w.Message)
	for _, fn := range subs {
		fn(w)
	}
}
