package detector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/artifix/voicecore/internal/activation"
)

// fakeEmitter records submitted events and warnings.
type fakeEmitter struct {
	mu       sync.Mutex
	events   []activation.Event
	warnings []activation.Warning
}

func (e *fakeEmitter) Submit(ev activation.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *fakeEmitter) ReportWarning(w activation.Warning) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.warnings = append(e.warnings, w)
}

func (e *fakeEmitter) eventCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}

// phraseChanSource feeds phrases from a channel; a closed channel means
// the device is gone.
type phraseChanSource struct {
	ch chan Phrase
}

func (s *phraseChanSource) NextPhrase(ctx context.Context) (Phrase, error) {
	select {
	case <-ctx.Done():
		return Phrase{}, ctx.Err()
	case ph, ok := <-s.ch:
		if !ok {
			return Phrase{}, ErrDeviceUnavailable
		}
		return ph, nil
	}
}

func wakeConfig(sensitivity float64) Config {
	return Config{Enabled: true, Sensitivity: sensitivity, Phrases: []string{"hey artifix", "artifix"}}
}

func TestWakeWordThresholdBoundary(t *testing.T) {
	tests := []struct {
		name        string
		sensitivity float64
		score       float64
		want        bool
	}{
		{"WellAbove", 0.5, 0.9, true},
		{"ExactlyAtThreshold", 0.5, 0.5, true},
		{"JustBelow", 0.5, 0.4999, false},
		{"ZeroThresholdAcceptsAll", 0.0, 0.0, true},
		{"MaxThresholdNeedsPerfect", 1.0, 1.0, true},
		{"MaxThresholdRejectsBelow", 1.0, 0.99, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewWakeWord(&phraseChanSource{}, &fakeEmitter{}, wakeConfig(tt.sensitivity))
			if err != nil {
				t.Fatal(err)
			}
			_, got := w.match(Phrase{Text: "hey artifix", Score: tt.score, At: time.Now()})
			if got != tt.want {
				t.Errorf("match with score %v vs sensitivity %v = %v, want %v", tt.score, tt.sensitivity, got, tt.want)
			}
		})
	}
}

func TestWakeWordMatchingIgnoresCaseAndPunctuation(t *testing.T) {
	w, err := NewWakeWord(&phraseChanSource{}, &fakeEmitter{}, wakeConfig(0.5))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		text string
		want bool
	}{
		{"hey artifix", true},
		{"Hey, Artifix!", true},
		{"HEY ARTIFIX?", true},
		{"okay so hey artifix please", true},
		{"artifix", true},
		{"hey art if ix", false},
		{"completely unrelated", false},
		{"", false},
	}

	for _, tt := range tests {
		ev, got := w.match(Phrase{Text: tt.text, Score: 0.9, At: time.Now()})
		if got != tt.want {
			t.Errorf("match(%q) = %v, want %v", tt.text, got, tt.want)
		}
		if got && ev.Source != activation.WakeWord {
			t.Errorf("match(%q) emitted source %s", tt.text, ev.Source)
		}
	}
}

func TestWakeWordDisabledEmitsNothing(t *testing.T) {
	cfg := wakeConfig(0.1)
	cfg.Enabled = false
	w, err := NewWakeWord(&phraseChanSource{}, &fakeEmitter{}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, got := w.match(Phrase{Text: "hey artifix", Score: 1.0}); got {
		t.Error("disabled detector must not match")
	}
}

func TestWakeWordConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"SensitivityTooHigh", Config{Enabled: true, Sensitivity: 1.1, Phrases: []string{"x"}}},
		{"SensitivityNegative", Config{Enabled: true, Sensitivity: -0.1, Phrases: []string{"x"}}},
		{"EnabledWithoutPhrases", Config{Enabled: true, Sensitivity: 0.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWakeWord(&phraseChanSource{}, &fakeEmitter{}, tt.cfg)
			if !errors.Is(err, ErrConfigurationInvalid) {
				t.Fatalf("err = %v, want ErrConfigurationInvalid", err)
			}
		})
	}
}

func TestWakeWordReconfigureKeepsPriorConfigOnError(t *testing.T) {
	w, err := NewWakeWord(&phraseChanSource{}, &fakeEmitter{}, wakeConfig(0.5))
	if err != nil {
		t.Fatal(err)
	}

	if err := w.Configure(Config{Enabled: true, Sensitivity: 2.0, Phrases: []string{"x"}}); !errors.Is(err, ErrConfigurationInvalid) {
		t.Fatalf("err = %v, want ErrConfigurationInvalid", err)
	}

	// Prior config still in effect.
	if _, got := w.match(Phrase{Text: "hey artifix", Score: 0.6}); !got {
		t.Error("prior configuration should be retained after a rejected update")
	}
}

func TestWakeWordRunEmitsAndRearms(t *testing.T) {
	src := &phraseChanSource{ch: make(chan Phrase, 4)}
	em := &fakeEmitter{}
	w, err := NewWakeWord(src, em, wakeConfig(0.5))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Two positives in a row: the detector re-arms automatically.
	src.ch <- Phrase{Text: "hey artifix", Score: 0.8, At: time.Now()}
	src.ch <- Phrase{Text: "too quiet artifix", Score: 0.2, At: time.Now()}
	src.ch <- Phrase{Text: "artifix again", Score: 0.9, At: time.Now()}

	deadline := time.Now().Add(2 * time.Second)
	for em.eventCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := em.eventCount(); got != 2 {
		t.Fatalf("emitted %d events, want 2", got)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hey, Artifix!", "hey artifix"},
		{"  multiple   spaces  ", "multiple spaces"},
		{"MiXeD CaSe 123", "mixed case 123"},
		{"!!!", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
