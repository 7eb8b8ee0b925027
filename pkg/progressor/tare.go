package progressor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BTBurke/critforce/pkg/tracing"
)

// averager accumulates the loads it receives
type averager struct {
	mu  sync.Mutex
	sum float64
	n   int
}

func (a *averager) OnForceSample(_, load float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sum += load
	a.n++
}

func (a *averager) mean() (float64, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.n == 0 {
		return 0, 0
	}
	return a.sum / float64(a.n), a.n
}

// SoftTare zeroes the sensor in software.  It streams for the tare window with the registered sink swapped
// out, then sets the offset to the mean raw load seen during the window.  The previous sink is restored
// however SoftTare returns.  If no samples arrive the offset is left unchanged and ErrNoSamples is returned.
// Only one soft tare may run at a time.
func (s *Session) SoftTare(ctx context.Context) (offset float64, err error) {
	ctx, span := tracing.StartSpan(ctx, "progressor.SoftTare")
	defer func() { tracing.End(span, err) }()

	acc := &averager{}
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return 0, ErrNotConnected
	}
	if s.taring {
		s.mu.Unlock()
		return 0, ErrTareInProgress
	}
	s.taring = true
	prev := s.sink
	s.sink = acc
	previous := s.offset
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sink = prev
		s.taring = false
		s.mu.Unlock()
	}()

	if err := s.SendCommand(ctx, StartWeightMeas); err != nil {
		return previous, fmt.Errorf("progressor: start tare: %w", err)
	}

	timer := time.NewTimer(s.tareWindow)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		if err := s.SendCommand(context.Background(), StopWeightMeas); err != nil {
			s.log.Warn("stop streaming after cancelled tare", "error", err)
		}
		return previous, ctx.Err()
	}

	if err := s.SendCommand(ctx, StopWeightMeas); err != nil {
		return previous, fmt.Errorf("progressor: stop tare: %w", err)
	}

	// samples reach the accumulator with the previous offset already removed
	mean, n := acc.mean()
	if n == 0 {
		return previous, ErrNoSamples
	}

	s.mu.Lock()
	s.offset = previous + mean
	offset = s.offset
	s.mu.Unlock()

	span.SetAttributes(tracing.Float("tare.offset_kg", offset), tracing.Int("tare.samples", n))
	s.log.Info("soft tare complete", "offset_kg", offset, "samples", n)
	s.publish(EventTare, offset, Topic)
	return offset, nil
}
