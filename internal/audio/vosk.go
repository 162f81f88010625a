// Package audio holds the hardware-facing adapters between raw PCM input
// and the detector interfaces. Everything here maps device and driver
// failures to detector.ErrDeviceUnavailable and releases its handles on
// every exit path.
package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	vosk "github.com/alphacep/vosk-api/go"

	"github.com/artifix/voicecore/internal/detector"
)

// VoskSource adapts an offline Vosk recognizer into a TranscriptSource:
// it feeds raw 16-bit mono PCM into the recognizer and yields one Phrase
// per finalized utterance.
type VoskSource struct {
	model *vosk.VoskModel
	rec   *vosk.VoskRecognizer
	pcm   io.Reader
	buf   []byte

	closeOnce sync.Once
}

// NewVoskSource loads the model and recognizer. The caller owns pcm; the
// returned source owns the model handles and must be Closed.
func NewVoskSource(modelPath string, pcm io.Reader, sampleRate float64) (*VoskSource, error) {
	model, err := vosk.NewModel(modelPath)
	if err != nil {
		return nil, fmt.Errorf("loading vosk model %s: %w", modelPath, err)
	}
	rec, err := vosk.NewRecognizer(model, sampleRate)
	if err != nil {
		model.Free()
		return nil, fmt.Errorf("creating vosk recognizer: %w", err)
	}
	rec.SetWords(1)

	return &VoskSource{
		model: model,
		rec:   rec,
		pcm:   pcm,
		// 100ms of 16-bit mono at 16kHz per read keeps latency low.
		buf: make([]byte, 3200),
	}, nil
}

func (v *VoskSource) NextPhrase(ctx context.Context) (detector.Phrase, error) {
	for {
		if err := ctx.Err(); err != nil {
			return detector.Phrase{}, err
		}

		n, err := v.pcm.Read(v.buf)
		if err != nil {
			return detector.Phrase{}, fmt.Errorf("%w: %v", detector.ErrDeviceUnavailable, err)
		}
		if n == 0 {
			continue
		}

		if v.rec.AcceptWaveform(v.buf[:n]) == 0 {
			// Utterance still open.
			continue
		}

		text, score := parseResult(v.rec.Result())
		if text == "" {
			continue
		}
		return detector.Phrase{Text: text, Score: score, At: time.Now()}, nil
	}
}

// Close releases the recognizer and model handles. Safe to call more than
// once.
func (v *VoskSource) Close() {
	v.closeOnce.Do(func() {
		v.rec.Free()
		v.model.Free()
	})
}

// parseResult extracts the transcript and a confidence score from a Vosk
// result document. Word confidences are averaged; a result without word
// detail scores 1.0.
func parseResult(doc string) (string, float64) {
	var res struct {
		Text   string `json:"text"`
		Result []struct {
			Conf float64 `json:"conf"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(doc), &res); err != nil {
		return "", 0
	}
	if len(res.Result) == 0 {
		return res.Text, 1.0
	}
	var sum float64
	for _, w := range res.Result {
		sum += w.Conf
	}
	return res.Text, sum / float64(len(res.Result))
}
