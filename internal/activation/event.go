package activation

import (
	"encoding/json"
	"time"
)

// Source identifies what produced an activation event.
type Source int

const (
	Manual Source = iota
	WakeWord
	Clap
)

var sourceNames = map[Source]string{
	Manual:   "manual",
	WakeWord: "wake_word",
	Clap:     "clap",
}

var sourceFromName = map[string]Source{
	"manual":    Manual,
	"wake_word": WakeWord,
	"clap":      Clap,
}

func (s Source) String() string {
	if n, ok := sourceNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s Source) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Source) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := sourceFromName[name]; ok {
		*s = v
	}
	return nil
}

// Priority orders events competing in the same scheduling tick.
// Manual always wins a tie; claps lose to everything.
func (s Source) Priority() int {
	switch s {
	case Manual:
		return 2
	case WakeWord:
		return 1
	default:
		return 0
	}
}

// Event is a single activation signal. Immutable; produced by a detector
// (or the manual trigger) and consumed once by the arbiter.
type Event struct {
	Source     Source    `json:"source"`
	Confidence float64   `json:"confidence"`
	At         time.Time `json:"at"`
}

// Warning is a non-fatal detector fault, e.g. a detector losing its audio
// device. The process keeps running on the remaining detectors.
type Warning struct {
	Detector string    `json:"detector"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}
