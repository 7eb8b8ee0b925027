// Package eventbus fans out device and test events (low battery warnings, command replies, undecodable
// frames, sequencer state changes and clock ticks) to any number of subscribers.
package eventbus

import (
	"context"
	"sync"
)

// Topic creates a group of subscribers that only receive events published to that channel
type Topic string

const (
	defaultTopic Topic = "__default__"

	// DefaultBuffer is the number of events a subscriber may fall behind before events are dropped
	DefaultBuffer int = 16
)

// EventBus dispatches events to all subcribers on one or more topics.  If no topic is set, a default
// channel is created that dispatches events to every subscriber.  Subscribers can use the EventType to
// filter which events they respond to rather than configuring multiple topics.
//
// Dispatch never blocks.  Each subscriber has a buffered channel and events for a subscriber whose buffer is
// full are dropped and counted, so a slow subscriber cannot stall the BLE notification path.
type EventBus struct {
	subscribers map[Topic][]chan Event
	done        []chan struct{}
	buffer      int
	dropped     uint64
	closed      bool
	mutex       sync.RWMutex
}

// Option configures the event bus
type Option func(e *EventBus)

// WithBuffer sets the per subscriber buffer size
func WithBuffer(n int) Option {
	return func(e *EventBus) {
		if n > 0 {
			e.buffer = n
		}
	}
}

// New returns a new event bus.  A default topic is created, but subscribers may create other topics
// when they register.
func New(opts ...Option) *EventBus {
	e := &EventBus{
		subscribers: make(map[Topic][]chan Event),
		buffer:      DefaultBuffer,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe will register a subscriber to 0 or more topics.  If no topic is defined, the subscriber will be
// added to the default channel and receive all events published on any channel.
//
// The subscriber receives two channels, the first channel will receive events and will be closed when the
// event bus is shut down.  Subscribers should detect a closed event channel, finish any work, then close the
// second channel (done channel) to indicate that the subscriber has exited.
func (e *EventBus) Subscribe(topics ...Topic) (chan Event, chan struct{}) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	c := make(chan Event, e.buffer)
	done := make(chan struct{})
	if e.closed {
		close(c)
		return c, done
	}
	e.done = append(e.done, done)

	// subscribe to the default topic if no topics defined
	if len(topics) == 0 {
		topics = []Topic{defaultTopic}
	}
	for _, topic := range topics {
		e.subscribers[topic] = append(e.subscribers[topic], c)
	}
	return c, done
}

// Unsubscribe removes the subscriber from receiving any more events and closes its event channel.  The done
// channel is forgotten, not closed, since it belongs to the subscriber.
func (e *EventBus) Unsubscribe(c chan Event, done chan struct{}) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	found := false
	for topic, chs := range e.subscribers {
		for i, ch := range chs {
			if ch == c {
				found = true
				e.subscribers[topic] = append(chs[:i:i], chs[i+1:]...)
				break
			}
		}
	}
	if found && !e.closed {
		close(c)
	}

	for i, d := range e.done {
		if d == done {
			e.done = append(e.done[:i:i], e.done[i+1:]...)
			break
		}
	}
}

// Dispatch will send the event to 0 or more topics.  All events are also delivered to default topic
// subscribers.  A subscriber on several matching topics receives the event once.
func (e *EventBus) Dispatch(event Event, topics ...Topic) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.closed {
		return
	}

	// always send to the defaultTopic even if other topics specified
	topics = append(topics, defaultTopic)

	sent := make(map[chan Event]struct{})
	for _, topic := range topics {
		// it no subscribers on the topic, silently drop message
		for _, ch := range e.subscribers[topic] {
			if _, ok := sent[ch]; ok {
				continue
			}
			sent[ch] = struct{}{}
			select {
			case ch <- event:
			default:
				e.dropped++
			}
		}
	}
}

// Dropped returns the number of events discarded because a subscriber buffer was full
func (e *EventBus) Dropped() uint64 {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.dropped
}

// Shutdown will close every subscriber channel and block until all subscribers have closed their done
// channels or the context ends.  Use a context timeout to prevent shutdown from hanging if a subscriber
// cannot finish in a reasonable time.
func (e *EventBus) Shutdown(ctx context.Context) error {
	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return nil
	}
	e.closed = true

	done := make(chan struct{})
	go shutdownNotify(done, append([]chan struct{}{}, e.done...))

	closed := make(map[chan Event]struct{})
	for _, chs := range e.subscribers {
		for _, ch := range chs {
			if _, ok := closed[ch]; ok {
				continue
			}
			closed[ch] = struct{}{}
			close(ch)
		}
	}
	e.mutex.Unlock()

	select {
	case <-ctx.Done():
		return ErrShutdownTimeout
	case <-done:
		return nil
	}
}

// shutdownNotify waits for every subscriber done channel to close and then closes done
func shutdownNotify(done chan struct{}, all []chan struct{}) {
	var wg sync.WaitGroup
	for _, ch := range all {
		wg.Add(1)
		go func(c chan struct{}) {
			defer wg.Done()
			<-c
		}(ch)
	}
	wg.Wait()
	close(done)
}
