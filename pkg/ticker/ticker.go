// Package ticker drives the test clock.  The sequencer never sleeps, so something has to tell it when
// time has passed.
package ticker

import (
	"context"
	"time"

	"github.com/BTBurke/critforce/pkg/eventbus"
)

const (
	// Topic carries clock ticks
	Topic eventbus.Topic = "clock"
	// EventTick has the tick time.Time as data
	EventTick eventbus.EventType = "tick"
)

// Start emits a tick event on bus every d until ctx is done or the bus shuts down.  The returned channel is
// closed when the ticker has stopped.  A zero duration disables the ticker.
func Start(ctx context.Context, d time.Duration, bus *eventbus.EventBus) <-chan struct{} {
	stopped := make(chan struct{})
	if d <= 0 {
		close(stopped)
		return stopped
	}

	// the subscription only exists to learn about bus shutdown
	ch, done := bus.Subscribe(eventbus.Topic("__ticker__"))
	tick := time.NewTicker(d)

	go func() {
		defer close(stopped)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				bus.Unsubscribe(ch, done)
				close(done)
				return
			case _, open := <-ch:
				if !open {
					close(done)
					return
				}
			case now := <-tick.C:
				bus.Dispatch(eventbus.NewEvent(EventTick, now), Topic)
			}
		}
	}()
	return stopped
}
