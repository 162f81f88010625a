package detector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/artifix/voicecore/internal/activation"
)

// ErrDeviceUnavailable means a detector lost access to its audio source.
// The detector disables itself and must be explicitly re-armed; the
// process keeps running on the remaining detectors.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// ErrConfigurationInvalid rejects out-of-range detector settings at
// configuration time. The prior configuration stays in effect.
var ErrConfigurationInvalid = errors.New("invalid detector configuration")

// Phrase is a short transcribed audio buffer with the recognizer's
// confidence score in [0,1].
type Phrase struct {
	Text  string
	Score float64
	At    time.Time
}

// TranscriptSource yields short rolling transcripts of the input audio.
// NextPhrase blocks until a phrase is available; implementations must
// honor ctx and return ErrDeviceUnavailable (wrapped) when the underlying
// device is lost.
type TranscriptSource interface {
	NextPhrase(ctx context.Context) (Phrase, error)
}

// Sample is one amplitude reading from the input device.
type Sample struct {
	RMS float64
	At  time.Time
}

// SampleSource yields amplitude samples. Same blocking and error contract
// as TranscriptSource.
type SampleSource interface {
	NextSample(ctx context.Context) (Sample, error)
}

// Emitter receives activation events and detector warnings. Implemented
// by the activation arbiter; both methods must never block.
type Emitter interface {
	Submit(activation.Event)
	ReportWarning(activation.Warning)
}

// Detector is one polling loop over an audio source. Run returns nil when
// ctx is cancelled and an error when the source fails; the runner handles
// disabling and re-arming. Configure takes effect on the next polling
// cycle, never mid-detection.
type Detector interface {
	Name() string
	Run(ctx context.Context) error
	Configure(Config) error
}

// Config carries the reconfigurable knobs a detector understands.
// Sensitivity and Phrases apply to the wake-word detector; Threshold and
// MaxGap to the clap detector. Immutable once applied.
type Config struct {
	Enabled     bool          `json:"enabled" yaml:"enabled"`
	Sensitivity float64       `json:"sensitivity,omitempty" yaml:"sensitivity"`
	Phrases     []string      `json:"phrases,omitempty" yaml:"phrases"`
	Threshold   float64       `json:"threshold,omitempty" yaml:"threshold"`
	MaxGap      time.Duration `json:"maxGap,omitempty" yaml:"max_gap"`
}

func validateSensitivity(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%w: sensitivity %v out of range [0,1]", ErrConfigurationInvalid, v)
	}
	return nil
}
