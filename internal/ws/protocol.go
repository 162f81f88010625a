package ws

import (
	"github.com/artifix/voicecore/internal/activation"
	"github.com/artifix/voicecore/internal/feedback"
	"github.com/artifix/voicecore/internal/session"
)

type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgDelta    MessageType = "delta"
	MsgWarning  MessageType = "warning"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// SnapshotPayload carries the full current view: the active session (nil
// when idle) and the last rendered feedback state.
type SnapshotPayload struct {
	Session  *session.Session `json:"session"`
	Feedback *feedback.State  `json:"feedback"`
}

// DeltaPayload carries whatever changed since the last flush.
type DeltaPayload struct {
	Session  *session.Session `json:"session,omitempty"`
	Feedback *feedback.State  `json:"feedback,omitempty"`
}

type WarningPayload struct {
	Detector string `json:"detector"`
	Message  string `json:"message"`
}

func warningMessage(w activation.Warning) WSMessage {
	return WSMessage{
		Type: MsgWarning,
		Payload: WarningPayload{
			Detector: w.Detector,
			Message:  w.Message,
		},
	}
}
