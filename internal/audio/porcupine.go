package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	porcupine "github.com/Picovoice/porcupine/binding/go"

	"github.com/artifix/voicecore/internal/activation"
	"github.com/artifix/voicecore/internal/detector"
)

// PorcupineDetector runs the Picovoice keyword engine over raw PCM frames
// and emits wake-word activations directly, bypassing transcription. The
// keyword engine scores internally against its own sensitivity, so
// emitted events carry full confidence.
type PorcupineDetector struct {
	pcm     io.Reader
	emitter detector.Emitter
	engine  porcupine.Porcupine

	mu      sync.Mutex
	enabled bool
}

// NewPorcupineDetector initializes the keyword engine. The access key
// comes from the environment (PORCUPINE_ACCESS_KEY); sensitivity is fixed
// at engine init.
func NewPorcupineDetector(accessKey, keywordPath string, sensitivity float32, pcm io.Reader, emitter detector.Emitter) (*PorcupineDetector, error) {
	d := &PorcupineDetector{
		pcm:     pcm,
		emitter: emitter,
		enabled: true,
		engine: porcupine.Porcupine{
			AccessKey:     accessKey,
			KeywordPaths:  []string{keywordPath},
			Sensitivities: []float32{sensitivity},
		},
	}
	if err := d.engine.Init(); err != nil {
		return nil, fmt.Errorf("porcupine init: %w", err)
	}
	return d, nil
}

func (d *PorcupineDetector) Name() string { return "porcupine" }

// Configure toggles the detector. The keyword model and sensitivity are
// fixed at init; changing them requires re-creating the detector, which
// is rejected here so the prior engine stays valid.
func (d *PorcupineDetector) Configure(cfg detector.Config) error {
	if len(cfg.Phrases) > 0 {
		return fmt.Errorf("%w: porcupine keywords are fixed at init", detector.ErrConfigurationInvalid)
	}
	d.mu.Lock()
	d.enabled = cfg.Enabled
	d.mu.Unlock()
	return nil
}

func (d *PorcupineDetector) Run(ctx context.Context) error {
	defer d.engine.Delete()

	frame := make([]int16, porcupine.FrameLength)
	raw := make([]byte, porcupine.FrameLength*2)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := io.ReadFull(d.pcm, raw); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %v", detector.ErrDeviceUnavailable, err)
		}
		for i := range frame {
			frame[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
		}

		idx, err := d.engine.Process(frame)
		if err != nil {
			return fmt.Errorf("porcupine process: %w", err)
		}
		if idx < 0 {
			continue
		}

		d.mu.Lock()
		enabled := d.enabled
		d.mu.Unlock()
		if enabled {
			d.emitter.Submit(activation.Event{
				Source:     activation.WakeWord,
				Confidence: 1.0,
				At:         time.Now(),
			})
		}
	}
}
