package audio

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/artifix/voicecore/internal/detector"
)

// PCMMeter turns a raw 16-bit mono PCM stream into amplitude samples for
// the clap detector and the feedback visualizer. RMS is normalized to
// [0,1] against full scale.
type PCMMeter struct {
	pcm io.Reader
	buf []byte
}

// NewPCMMeter reads windows of the given duration at the given sample
// rate per amplitude sample.
func NewPCMMeter(pcm io.Reader, sampleRate float64, window time.Duration) *PCMMeter {
	n := int(sampleRate * window.Seconds())
	if n < 1 {
		n = 1
	}
	return &PCMMeter{pcm: pcm, buf: make([]byte, n*2)}
}

func (m *PCMMeter) NextSample(ctx context.Context) (detector.Sample, error) {
	if err := ctx.Err(); err != nil {
		return detector.Sample{}, err
	}
	if _, err := io.ReadFull(m.pcm, m.buf); err != nil {
		return detector.Sample{}, fmt.Errorf("%w: %v", detector.ErrDeviceUnavailable, err)
	}
	return detector.Sample{RMS: rms16(m.buf), At: time.Now()}, nil
}

// rms16 computes the normalized root-mean-square of little-endian 16-bit
// samples.
func rms16(raw []byte) float64 {
	n := len(raw) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
