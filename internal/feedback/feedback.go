package feedback

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/artifix/voicecore/internal/session"
)

// Mode is the visualization mode derived from the session phase.
type Mode int

const (
	Idle Mode = iota
	Listening
	Processing
	Responding
)

var modeNames = map[Mode]string{
	Idle:       "idle",
	Listening:  "listening",
	Processing: "processing",
	Responding: "responding",
}

var modeFromName = map[string]Mode{
	"idle":       Idle,
	"listening":  Listening,
	"processing": Processing,
	"responding": Responding,
}

func (m Mode) String() string {
	if n, ok := modeNames[m]; ok {
		return n
	}
	return "unknown"
}

func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Mode) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := modeFromName[name]; ok {
		*m = v
	}
	return nil
}

// State is what the visualization sink renders. Derived deterministically
// from the session phase; it never holds independent truth.
type State struct {
	SessionID string  `json:"sessionId,omitempty"`
	Mode      Mode    `json:"mode"`
	Intensity float64 `json:"intensity"`
	Reason    string  `json:"reason,omitempty"`
}

const (
	// processingIntensity is the fixed low glow while the dispatcher runs.
	processingIntensity = 0.2
	// responsePulse is the fixed short pulse used when the synthesized
	// speech duration is unknown at this boundary.
	responsePulse = 0.8
)

// FromSession maps a session snapshot to a feedback state. Listening
// intensity follows the live input amplitude; terminal phases render as
// idle with the end reason attached.
func FromSession(s session.Session, amplitude float64) State {
	switch s.Phase {
	case session.Listening:
		return State{SessionID: s.ID, Mode: Listening, Intensity: clamp(amplitude)}
	case session.Processing:
		return State{SessionID: s.ID, Mode: Processing, Intensity: processingIntensity}
	case session.Responding:
		return State{SessionID: s.ID, Mode: Responding, Intensity: responsePulse}
	default:
		return State{SessionID: s.ID, Mode: Idle, Intensity: 0, Reason: s.EndReason}
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Coordinator delivers feedback updates to subscribers without ever
// blocking the state machine. Delivery is latest-wins: a new transition
// overrides an update still pending for the same session, so a slow sink
// only sees fewer frames, never stale ordering.
type Coordinator struct {
	mu        sync.Mutex
	pending   *State
	subs      []func(State)
	amplitude float64
	listening string // session id currently in the listening phase, if any

	wake chan struct{}
}

func NewCoordinator() *Coordinator {
	return &Coordinator{wake: make(chan struct{}, 1)}
}

// Subscribe registers a sink callback. Callbacks run on the coordinator's
// render goroutine.
func (c *Coordinator) Subscribe(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

// ObserveSession is the machine observer. It derives the feedback state
// and queues it; it never blocks.
func (c *Coordinator) ObserveSession(s session.Session) {
	c.mu.Lock()
	if s.Phase == session.Listening {
		c.listening = s.ID
	} else {
		c.listening = ""
	}
	st := FromSession(s, c.amplitude)
	c.pending = &st
	c.mu.Unlock()
	c.signal()
}

// SetAmplitude drives the listening-mode intensity from the live input
// level. Ignored outside the listening phase.
func (c *Coordinator) SetAmplitude(rms float64) {
	c.mu.Lock()
	c.amplitude = rms
	if c.listening == "" {
		c.mu.Unlock()
		return
	}
	st := State{SessionID: c.listening, Mode: Listening, Intensity: clamp(rms)}
	c.pending = &st
	c.mu.Unlock()
	c.signal()
}

func (c *Coordinator) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run renders pending states until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
			c.mu.Lock()
			st := c.pending
			c.pending = nil
			subs := make([]func(State), len(c.subs))
			copy(subs, c.subs)
			c.mu.Unlock()

			if st == nil {
				continue
			}
			for _, fn := range subs {
				fn(*st)
			}
		}
	}
}
