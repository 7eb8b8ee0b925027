package eventbus

import "time"

// EventType lets subscribers on a shared topic decide whether an event concerns them
type EventType string

// Event is passed on the event bus to every subscriber on the channel.  Data is owned by the receiver and
// its concrete type is fixed by the EventType.
type Event struct {
	EventType EventType
	Time      time.Time
	Data      interface{}
}

// NewEvent stamps an event with the current time
func NewEvent(evt EventType, data interface{}) Event {
	return Event{EventType: evt, Time: time.Now(), Data: data}
}
