package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewEvent(t *testing.T) {
	before := time.Now()
	evt := NewEvent(EventType("command_reply"), "1.2.3")
	assert.Equal(t, EventType("command_reply"), evt.EventType)
	assert.Equal(t, "1.2.3", evt.Data)
	assert.False(t, evt.Time.Before(before))
}

func TestOnErrorTopic(t *testing.T) {
	e := New()
	c, _ := e.Subscribe(OnErrorTopic())
	e.Dispatch(NewEvent(EventType("frame_error"), nil), OnErrorTopic())
	assert.Equal(t, EventType("frame_error"), (<-c).EventType)
}
