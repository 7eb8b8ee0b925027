package metric

import (
	"fmt"
	"sync"

	"github.com/BTBurke/critforce/pkg/stat"
)

// Point is a timestamped observation
type Point struct {
	Time  float64
	Value float64
}

// Series is a fixed capacity ring of the most recent observations.  It is safe for concurrent use.
type Series struct {
	name   Name
	count  int
	points []Point
	mutex  sync.RWMutex
}

// SeriesOption configures a new series
type SeriesOption func(s *Series) error

// NewSeries creates a new series with a capacity of cap
func NewSeries(cap int, opts ...SeriesOption) (*Series, error) {
	if cap <= 0 {
		return nil, fmt.Errorf("series must be initialized with a capacity >= 1")
	}

	s := &Series{
		points: make([]Point, cap),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// WithName sets the name of the series
func WithName(name string, md map[string]string) SeriesOption {
	return func(s *Series) error {
		if name == "" {
			return fmt.Errorf("series name must be the non-empty string")
		}
		s.name = NewName(name, md)
		return nil
	}
}

// WithPoints initializes a series from existing observations.  The number of observations does not have to
// equal the capacity.
func WithPoints(points []Point) SeriesOption {
	return func(s *Series) error {
		for _, p := range points {
			s.Record(p.Time, p.Value)
		}
		return nil
	}
}

// Record adds a new observation, overwriting the oldest once the series is full
func (s *Series) Record(t, v float64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.points[s.count%len(s.points)] = Point{Time: t, Value: v}
	s.count++
}

// Points returns a copy of the retained observations from oldest to most recent
func (s *Series) Points() []Point {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.count < len(s.points) {
		return append([]Point{}, s.points[:s.count]...)
	}
	oldest := s.count % len(s.points)
	out := make([]Point, 0, len(s.points))
	return append(append(out, s.points[oldest:]...), s.points[:oldest]...)
}

// Values returns the retained observation values from oldest to most recent
func (s *Series) Values() []float64 {
	points := s.Points()
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}

// Mean is the mean of the retained values, NaN when empty
func (s *Series) Mean() float64 {
	return stat.Mean(s.Values())
}

// Len returns the number of retained observations
func (s *Series) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.count < len(s.points) {
		return s.count
	}
	return len(s.points)
}

// Count returns the total number of observations recorded since the last reset
func (s *Series) Count() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.count
}

// Reset discards all observations
func (s *Series) Reset() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.count = 0
}

// Name returns the name of the series and associated metadata
func (s *Series) Name() string {
	return s.name.String()
}
