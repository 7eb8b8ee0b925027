package metric

import (
	"sync"
	"time"
)

// WindowedCounter counts observations in consecutive fixed windows of sample time.  Time is whatever clock
// the observations carry, e.g. device seconds, so counts are not skewed by delivery delays.  A time that
// goes backwards starts a new stream: the open window is closed and windows restart at that time.  It is
// safe for concurrent use.
type WindowedCounter struct {
	mu      sync.Mutex
	window  float64
	start   float64
	current int
	hist    []int
	total   int
	first   float64
	last    float64
	span    float64
	started bool
}

// NewWindowedCounter creates a counter with windows of duration d
func NewWindowedCounter(d time.Duration) *WindowedCounter {
	return &WindowedCounter{window: d.Seconds()}
}

// Add counts one observation at time t in seconds
func (c *WindowedCounter) Add(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case !c.started:
		c.started = true
		c.start, c.first = t, t
	case t < c.last:
		c.span += c.last - c.first
		c.hist = append(c.hist, c.current)
		c.current = 0
		c.start, c.first = t, t
	}
	for c.window > 0 && t >= c.start+c.window {
		c.hist = append(c.hist, c.current)
		c.current = 0
		c.start += c.window
	}
	c.current++
	c.total++
	c.last = t
}

// OnForceSample counts a sample, so the counter can be used as a sample sink
func (c *WindowedCounter) OnForceSample(t, _ float64) {
	c.Add(t)
}

// Value returns the count in the open window
func (c *WindowedCounter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Total returns the count over every window
func (c *WindowedCounter) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// History returns the counts of the closed windows, oldest first
func (c *WindowedCounter) History() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.hist...)
}

// Rate returns observations per second over the time covered by every stream, or 0 before two
// observations have been seen
func (c *WindowedCounter) Rate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	span := c.span + c.last - c.first
	if span <= 0 {
		return 0
	}
	return float64(c.total) / span
}

// Reset clears all counts
func (c *WindowedCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start, c.current, c.hist, c.total = 0, 0, nil, 0
	c.first, c.last, c.span, c.started = 0, 0, 0, false
}
