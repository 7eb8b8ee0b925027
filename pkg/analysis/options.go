// Package analysis turns a force-over-time recording from an interval (repeater) test into a critical load
// model.  The recording is segmented into loaded intervals by threshold crossings, each interval is reduced
// to robust statistics, and the sequence of interval loads is fit with a W' balance model.
package analysis

import (
	"github.com/BTBurke/critforce/pkg/stat"
)

const (
	// DefaultTriggerLevel is the load in kg above which the athlete is considered to be pulling
	DefaultTriggerLevel float64 = 3.0
	// DefaultMinLength is the minimum number of samples between a rising and falling edge for the pair to
	// count as an interval
	DefaultMinLength float64 = 3.5
	// DefaultAsymptoteWindow is the number of intervals, ending one before the last, averaged to find the
	// asymptotic load
	DefaultAsymptoteWindow int = 4
)

// Model selects the formula used for the predicted force curve
type Model int

const (
	// ModelDecay predicts asym + alpha*remaining, where alpha is the median observed ratio of
	// excess load to remaining work capacity
	ModelDecay Model = iota
	// ModelLinear predicts asym + remaining*(peak-asym)/W', scaling linearly from the peak load at full
	// capacity to the asymptote when capacity is exhausted
	ModelLinear
)

func (m Model) String() string {
	switch m {
	case ModelLinear:
		return "linear"
	default:
		return "decay"
	}
}

// Center selects which interval statistic represents the load of an interval
type Center int

const (
	// CenterMedian uses the sigma clipped median of each interval
	CenterMedian Center = iota
	// CenterMean uses the sigma clipped mean of each interval
	CenterMean
)

// Option configures segmentation and estimation
type Option func(c *config)

type config struct {
	trigger   float64
	minLength float64
	window    int
	model     Model
	center    Center
	clip      []stat.ClipOption
}

func newConfig(opts ...Option) config {
	c := config{
		trigger:   DefaultTriggerLevel,
		minLength: DefaultMinLength,
		window:    DefaultAsymptoteWindow,
		model:     ModelDecay,
		center:    CenterMedian,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithTriggerLevel sets the load threshold in kg used to detect interval edges
func WithTriggerLevel(kg float64) Option {
	return func(c *config) {
		c.trigger = kg
	}
}

// WithMinLength sets the minimum sample count separating a rising and falling edge
func WithMinLength(samples float64) Option {
	return func(c *config) {
		c.minLength = samples
	}
}

// WithAsymptoteWindow sets how many intervals before the last are averaged into the asymptotic load
func WithAsymptoteWindow(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.window = n
		}
	}
}

// WithModel selects the predicted force formula
func WithModel(m Model) Option {
	return func(c *config) {
		c.model = m
	}
}

// WithCenter selects whether the interval median or mean is used as its load
func WithCenter(ctr Center) Option {
	return func(c *config) {
		c.center = ctr
	}
}

// WithClipping passes options through to the sigma clipping of each interval
func WithClipping(opts ...stat.ClipOption) Option {
	return func(c *config) {
		c.clip = append(c.clip, opts...)
	}
}
