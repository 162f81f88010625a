package session

import (
	"encoding/json"
	"time"

	"github.com/artifix/voicecore/internal/activation"
)

// Phase is where a session sits in its listen/process/respond cycle.
type Phase int

const (
	Idle Phase = iota
	Listening
	Processing
	Responding
	Cancelled
	Expired
)

var phaseNames = map[Phase]string{
	Idle:       "idle",
	Listening:  "listening",
	Processing: "processing",
	Responding: "responding",
	Cancelled:  "cancelled",
	Expired:    "expired",
}

var phaseFromName = map[string]Phase{
	"idle":       Idle,
	"listening":  Listening,
	"processing": Processing,
	"responding": Responding,
	"cancelled":  Cancelled,
	"expired":    Expired,
}

func (p Phase) String() string {
	if n, ok := phaseNames[p]; ok {
		return n
	}
	return "unknown"
}

func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Phase) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := phaseFromName[name]; ok {
		*p = v
	}
	return nil
}

// IsTerminal reports whether the session instance is finished and will be
// discarded.
func (p Phase) IsTerminal() bool {
	return p == Cancelled || p == Expired
}

// Active reports whether the phase blocks new activation admission.
func (p Phase) Active() bool {
	return p == Listening || p == Processing || p == Responding
}

// Session is one complete listen/process/respond cycle, possibly spanning
// multiple conversational turns. Exactly one session may be active at a
// time; it is owned by the Machine and discarded once it leaves the active
// phases.
type Session struct {
	ID              string            `json:"id"`
	Phase           Phase             `json:"phase"`
	Source          activation.Source `json:"source"`
	StartedAt       time.Time         `json:"startedAt"`
	LastActivityAt  time.Time         `json:"lastActivityAt"`
	TurnCount       int               `json:"turnCount"`
	CancelRequested bool              `json:"cancelRequested,omitempty"`

	// EndReason annotates terminal and Idle transitions for the feedback
	// sink, e.g. "processing timed out". Empty for normal completion.
	EndReason string `json:"endReason,omitempty"`
}

// Clone returns a copy that can be mutated independently.
func (s *Session) Clone() *Session {
	c := *s
	return &c
}
