package session

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/artifix/voicecore/internal/activation"
	"github.com/google/uuid"
)

// Config holds the conversational timing knobs.
type Config struct {
	// ContinuousConversation keeps the session listening for a follow-up
	// turn after a response completes instead of returning to idle.
	ContinuousConversation bool

	// FollowUpWindow is how long a follow-up utterance may take to arrive
	// after a response completes. Default 10s.
	FollowUpWindow time.Duration

	// ProcessingTimeout bounds how long the external dispatcher may take
	// before the session is expired. Zero disables the guard.
	ProcessingTimeout time.Duration

	// CancelPhrases are recognized in addition to the built-in ones.
	CancelPhrases []string
}

var defaultCancelPhrases = []string{"stop", "exit", "cancel", "never mind"}

// Observer receives a session snapshot after every transition, in
// transition order. Observers must not block: snapshots are delivered
// synchronously under the machine lock so that no observer can see a
// half-updated session.
type Observer func(Session)

// Machine owns the lifecycle of the single active session. It is the only
// piece of state shared across components; everything else is owned by its
// detector or loop.
type Machine struct {
	mu        sync.Mutex
	cfg       Config
	cancel    []string // normalized cancel phrases
	current   *Session
	observers []Observer
	now       func() time.Time

	// followUpDeadline is set while the session is in a follow-up
	// Listening phase; an utterance at or after the deadline is too late.
	followUpDeadline time.Time

	followUpTimer   *time.Timer
	processingTimer *time.Timer
}

func NewMachine(cfg Config) *Machine {
	if cfg.FollowUpWindow <= 0 {
		cfg.FollowUpWindow = 10 * time.Second
	}
	phrases := make([]string, 0, len(defaultCancelPhrases)+len(cfg.CancelPhrases))
	for _, p := range append(append([]string{}, defaultCancelPhrases...), cfg.CancelPhrases...) {
		if n := normalizePhrase(p); n != "" {
			phrases = append(phrases, n)
		}
	}
	return &Machine{
		cfg:    cfg,
		cancel: phrases,
		now:    time.Now,
	}
}

// Subscribe registers an observer for session transitions.
func (m *Machine) Subscribe(obs Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, obs)
}

// Current returns a snapshot of the active session, if any.
func (m *Machine) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}

// TryStart implements activation.Gate: it admits the event only when no
// session is active, creating a fresh session in the Listening phase and
// notifying observers atomically.
func (m *Machine) TryStart(ev activation.Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current.Phase.Active() {
		return false
	}

	now := m.now()
	m.stopTimersLocked()
	m.current = &Session{
		ID:             uuid.NewString(),
		Phase:          Listening,
		Source:         ev.Source,
		StartedAt:      now,
		LastActivityAt: now,
	}
	log.Printf("session %s: started by %s (confidence %.2f)", m.current.ID, ev.Source, ev.Confidence)
	m.notifyLocked()
	return true
}

// FeedUtterance is called by the transcription collaborator when
// speech-to-text completes. A foreign or stale session id is a silent
// no-op: the session was already superseded.
func (m *Machine) FeedUtterance(id, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentIsLocked(id) || m.current.Phase != Listening {
		return
	}

	now := m.now()
	if !m.followUpDeadline.IsZero() && !now.Before(m.followUpDeadline) {
		// The follow-up window elapsed before this utterance arrived.
		m.endLocked(Idle, "follow-up window elapsed")
		return
	}

	if m.isCancelPhraseLocked(text) {
		m.current.CancelRequested = true
		m.endLocked(Cancelled, "cancel phrase")
		return
	}

	m.followUpDeadline = time.Time{}
	m.stopTimer(&m.followUpTimer)
	m.current.Phase = Processing
	m.current.LastActivityAt = now
	m.armProcessingLocked(m.current.ID)
	m.notifyLocked()
}

// FeedCancelPhrase forces cancellation. Recognized only while listening or
// processing; always honored there, never silently ignored.
func (m *Machine) FeedCancelPhrase(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentIsLocked(id) {
		return
	}
	switch m.current.Phase {
	case Listening, Processing:
		m.current.CancelRequested = true
		m.endLocked(Cancelled, "cancel phrase")
	}
}

// NotifyProcessingDone is called by the dispatcher when a response is
// ready (hasResponse) or when nothing further will be produced. Late calls
// referencing a superseded session never mutate the current one.
func (m *Machine) NotifyProcessingDone(id string, hasResponse bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentIsLocked(id) || m.current.Phase != Processing {
		return
	}

	m.stopTimer(&m.processingTimer)
	if hasResponse {
		m.current.Phase = Responding
		m.current.LastActivityAt = m.now()
		m.notifyLocked()
		return
	}
	// Nothing to speak; the turn is over.
	m.finishTurnLocked()
}

// NotifyResponseComplete is called by the synthesizer when playback
// finishes.
func (m *Machine) NotifyResponseComplete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentIsLocked(id) || m.current.Phase != Responding {
		return
	}
	m.finishTurnLocked()
}

// ExpireListening is the transcription collaborator surfacing its own
// listening timeout: no utterance arrived.
func (m *Machine) ExpireListening(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentIsLocked(id) || m.current.Phase != Listening {
		return
	}
	m.endLocked(Expired, "no utterance")
}

// CancelActive cancels whatever session is active, e.g. on shutdown or an
// explicit API call.
func (m *Machine) CancelActive(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || !m.current.Phase.Active() {
		return
	}
	m.current.CancelRequested = true
	m.endLocked(Cancelled, reason)
}

// finishTurnLocked decides between another conversational turn and idle.
func (m *Machine) finishTurnLocked() {
	if !m.cfg.ContinuousConversation {
		m.endLocked(Idle, "")
		return
	}

	now := m.now()
	m.current.Phase = Listening
	m.current.TurnCount++
	m.current.LastActivityAt = now
	m.followUpDeadline = now.Add(m.cfg.FollowUpWindow)
	m.armFollowUpLocked(m.current.ID)
	m.notifyLocked()
}

// endLocked moves the session to its final phase, notifies observers and
// discards it so the arbiter is re-armed.
func (m *Machine) endLocked(phase Phase, reason string) {
	m.stopTimersLocked()
	m.current.Phase = phase
	m.current.EndReason = reason
	m.current.LastActivityAt = m.now()
	log.Printf("session %s: %s (%s)", m.current.ID, phase, reason)
	m.notifyLocked()
	m.current = nil
}

func (m *Machine) armFollowUpLocked(id string) {
	m.stopTimer(&m.followUpTimer)
	m.followUpTimer = time.AfterFunc(m.cfg.FollowUpWindow, func() {
		m.expireFollowUp(id)
	})
}

func (m *Machine) armProcessingLocked(id string) {
	if m.cfg.ProcessingTimeout <= 0 {
		return
	}
	m.stopTimer(&m.processingTimer)
	m.processingTimer = time.AfterFunc(m.cfg.ProcessingTimeout, func() {
		m.expireProcessing(id)
	})
}

func (m *Machine) expireFollowUp(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentIsLocked(id) || m.current.Phase != Listening || m.followUpDeadline.IsZero() {
		return
	}
	m.endLocked(Idle, "follow-up window elapsed")
}

func (m *Machine) expireProcessing(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentIsLocked(id) || m.current.Phase != Processing {
		return
	}
	m.endLocked(Expired, "processing timed out")
}

func (m *Machine) currentIsLocked(id string) bool {
	return m.current != nil && m.current.ID == id
}

func (m *Machine) isCancelPhraseLocked(text string) bool {
	n := normalizePhrase(text)
	for _, p := range m.cancel {
		if n == p || strings.Contains(n, p) {
			return true
		}
	}
	return false
}

func (m *Machine) notifyLocked() {
	snapshot := *m.current
	for _, obs := range m.observers {
		obs(snapshot)
	}
}

func (m *Machine) stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (m *Machine) stopTimersLocked() {
	m.stopTimer(&m.followUpTimer)
	m.stopTimer(&m.processingTimer)
	m.followUpDeadline = time.Time{}
}

// normalizePhrase lowercases and strips everything but letters, digits and
// single spaces, so phrase matching ignores case and punctuation.
func normalizePhrase(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
