package detector

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/artifix/voicecore/internal/activation"
)

// Runner supervises a single detector loop. A detector that loses its
// audio source is disabled and a non-fatal warning is reported through the
// emitter; it must be explicitly re-armed. The loop never crashes the
// process.
type Runner struct {
	det     Detector
	emitter Emitter

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	disabled bool
}

func NewRunner(det Detector, emitter Emitter) *Runner {
	return &Runner{det: det, emitter: emitter}
}

func (r *Runner) Name() string { return r.det.Name() }

// Start launches the detector loop. No-op if it is already running.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil || r.disabled {
		return
	}
	r.startLocked(ctx)
}

func (r *Runner) startLocked(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done

	go func() {
		defer close(done)
		err := r.det.Run(runCtx)
		if err == nil || runCtx.Err() != nil {
			return
		}
		r.mu.Lock()
		r.disabled = true
		r.done = nil
		r.cancel = nil
		r.mu.Unlock()

		r.emitter.ReportWarning(activation.Warning{
			Detector: r.det.Name(),
			Message:  err.Error(),
			At:       time.Now(),
		})
		log.Printf("detector %s disabled: %v", r.det.Name(), err)
	}()
}

// Stop cancels the loop and waits up to timeout for it to exit. Returns
// false if the loop did not stop in time.
func (r *Runner) Stop(timeout time.Duration) bool {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()

	if cancel == nil {
		return true
	}
	cancel()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		log.Printf("detector %s did not stop within %s", r.det.Name(), timeout)
		return false
	}
}

// Rearm restarts a disabled detector. Returns false when the detector is
// not disabled (already running or never started).
func (r *Runner) Rearm(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.disabled {
		return false
	}
	r.disabled = false
	r.startLocked(ctx)
	log.Printf("detector %s re-armed", r.det.Name())
	return true
}

// Disabled reports whether the detector shut itself down after losing its
// source.
func (r *Runner) Disabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disabled
}

// Configure forwards new settings to the detector.
func (r *Runner) Configure(cfg Config) error {
	return r.det.Configure(cfg)
}
