package detector

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/artifix/voicecore/internal/activation"
)

// WakeWord matches short rolling transcripts against a configurable list
// of phrases. A phrase match whose score clears the sensitivity threshold
// (inclusive) emits exactly one activation event; below-threshold matches
// are silently dropped.
type WakeWord struct {
	source  TranscriptSource
	emitter Emitter

	mu      sync.Mutex
	cfg     Config
	phrases []string // normalized
}

func NewWakeWord(source TranscriptSource, emitter Emitter, cfg Config) (*WakeWord, error) {
	w := &WakeWord{source: source, emitter: emitter}
	if err := w.Configure(cfg); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *WakeWord) Name() string { return "wake_word" }

// Configure validates and swaps the detector settings. Applied on the
// next polling cycle, never mid-detection.
func (w *WakeWord) Configure(cfg Config) error {
	if err := validateSensitivity(cfg.Sensitivity); err != nil {
		return err
	}
	if cfg.Enabled && len(cfg.Phrases) == 0 {
		return fmt.Errorf("%w: wake word detector enabled with no phrases", ErrConfigurationInvalid)
	}
	normalized := make([]string, 0, len(cfg.Phrases))
	for _, p := range cfg.Phrases {
		if n := Normalize(p); n != "" {
			normalized = append(normalized, n)
		}
	}

	w.mu.Lock()
	w.cfg = cfg
	w.phrases = normalized
	w.mu.Unlock()
	return nil
}

func (w *WakeWord) Run(ctx context.Context) error {
	for {
		ph, err := w.source.NextPhrase(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if ev, ok := w.match(ph); ok {
			w.emitter.Submit(ev)
		}
	}
}

// match applies phrase matching and the sensitivity threshold to one
// transcript.
func (w *WakeWord) match(ph Phrase) (activation.Event, bool) {
	w.mu.Lock()
	cfg := w.cfg
	phrases := w.phrases
	w.mu.Unlock()

	if !cfg.Enabled {
		return activation.Event{}, false
	}

	text := Normalize(ph.Text)
	for _, p := range phrases {
		if strings.Contains(text, p) {
			if ph.Score >= cfg.Sensitivity {
				return activation.Event{
					Source:     activation.WakeWord,
					Confidence: ph.Score,
					At:         ph.At,
				}, true
			}
			// Sub-threshold match: not an error, not reported.
			return activation.Event{}, false
		}
	}
	return activation.Event{}, false
}

// Normalize lowercases and strips everything but letters, digits and
// single spaces, so phrase matching ignores case and punctuation.
func Normalize(s string) string {
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
