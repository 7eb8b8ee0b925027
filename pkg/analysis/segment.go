package analysis

import (
	"fmt"
	"math"

	"github.com/BTBurke/critforce/pkg/stat"
)

// Interval is a contiguous stretch of loading between a rising and a falling threshold crossing.  Start and
// End are sample indices, and the interval statistics are computed over loads[Start:End].
type Interval struct {
	Start      int
	End        int
	StartTime  float64
	MidTime    float64
	Duration   float64
	MeanLoad   float64
	MedianLoad float64
	PeakLoad   float64
	Std        float64
	StdErr     float64
}

// Load returns the representative load of the interval
func (i Interval) Load(c Center) float64 {
	if c == CenterMean {
		return i.MeanLoad
	}
	return i.MedianLoad
}

// Edges finds the indices where the load crosses the trigger level.  A rising edge at i means
// loads[i] < trigger <= loads[i+1] and a falling edge means loads[i] > trigger >= loads[i+1].  When the
// recording opens above the trigger, a rising edge is placed at index 0.
func Edges(loads []float64, trigger float64) (rising []int, falling []int) {
	if len(loads) == 0 {
		return nil, nil
	}
	if loads[0] > trigger {
		rising = append(rising, 0)
	}
	for i := 0; i < len(loads)-1; i++ {
		switch {
		case loads[i] < trigger && trigger <= loads[i+1]:
			rising = append(rising, i)
		case loads[i] > trigger && trigger >= loads[i+1]:
			falling = append(falling, i)
		}
	}
	return rising, falling
}

// Segment splits a recording into loaded intervals.  Each rising edge is paired with the first falling edge
// after it; a rising edge left without a falling edge at the end of the recording is ignored, and pairs
// closer together than the minimum length are dropped.
func Segment(times, loads []float64, opts ...Option) ([]Interval, error) {
	return segment(times, loads, newConfig(opts...))
}

func segment(times, loads []float64, c config) ([]Interval, error) {
	if len(times) != len(loads) {
		return nil, fmt.Errorf("%w: %d times, %d loads", ErrLengthMismatch, len(times), len(loads))
	}
	rising, falling := Edges(loads, c.trigger)

	var intervals []Interval
	j := 0
	lastEnd := -1
	for _, s := range rising {
		if s < lastEnd {
			continue
		}
		for j < len(falling) && falling[j] <= s {
			j++
		}
		if j == len(falling) {
			break
		}
		e := falling[j]
		j++
		lastEnd = e

		if float64(e-s) < c.minLength {
			continue
		}
		intervals = append(intervals, newInterval(times, loads, s, e, c))
	}
	return intervals, nil
}

func newInterval(times, loads []float64, s, e int, c config) Interval {
	window := loads[s:e]
	summary := stat.SigmaClippedStats(window, c.clip...)

	peak := math.Inf(-1)
	for _, l := range window {
		if l > peak {
			peak = l
		}
	}

	return Interval{
		Start:      s,
		End:        e,
		StartTime:  times[s],
		MidTime:    stat.Mean(times[s:e]),
		Duration:   times[e] - times[s],
		MeanLoad:   summary.Mean,
		MedianLoad: summary.Median,
		PeakLoad:   peak,
		Std:        summary.Std,
		StdErr:     stat.StdError(summary.Std, e-s),
	}
}
