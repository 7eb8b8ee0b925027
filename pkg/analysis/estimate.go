package analysis

import (
	"fmt"
	"math"

	"github.com/BTBurke/critforce/pkg/stat"
)

// Analyse segments a recording into intervals and estimates the critical load model for a test that
// alternated workSeconds of pulling with restSeconds of rest.
func Analyse(times, loads []float64, workSeconds, restSeconds float64, opts ...Option) (*Report, error) {
	c := newConfig(opts...)
	intervals, err := segment(times, loads, c)
	if err != nil {
		return nil, err
	}
	return estimate(intervals, workSeconds, restSeconds, c)
}

// Estimate fits the critical load model to an ordered list of intervals.
//
// The asymptotic load is the mean of the intervals in the window that ends one before the last.  Critical
// load scales the asymptote by the work fraction of each cycle.  Each interval spends
// (load-critical)*duration of W' while pulling and recovers critical*(cycle-duration) while resting; W' is
// the total spent.
//
// Fewer than two intervals is an error.  With fewer intervals than the asymptote window needs, the estimate
// uses what is available and the report is marked Partial.
func Estimate(intervals []Interval, workSeconds, restSeconds float64, opts ...Option) (*Report, error) {
	return estimate(intervals, workSeconds, restSeconds, newConfig(opts...))
}

func estimate(intervals []Interval, work, rest float64, c config) (*Report, error) {
	n := len(intervals)
	if n < 2 {
		return nil, fmt.Errorf("%w: found %d, need at least 2", ErrInsufficientIntervals, n)
	}
	if work <= 0 || rest < 0 {
		return nil, fmt.Errorf("%w: work=%g rest=%g", ErrInvalidTiming, work, rest)
	}

	loads := make([]float64, n)
	errs := make([]float64, n)
	durations := make([]float64, n)
	peak := math.Inf(-1)
	for i, iv := range intervals {
		loads[i] = iv.Load(c.center)
		errs[i] = iv.StdErr
		durations[i] = iv.Duration
		if iv.PeakLoad > peak {
			peak = iv.PeakLoad
		}
	}

	lo := n - 1 - c.window
	if lo < 0 {
		lo = 0
	}
	window := loads[lo : n-1]
	asym := stat.NanMean(window)
	eAsym := stat.NanStd(window) / float64(stat.CountFinite(window))

	cycle := work + rest
	critical := asym * work / cycle
	eCritical := critical * (eAsym / asym)

	used := make([]float64, n)
	wprime := 0.0
	for i := range loads {
		used[i] = (loads[i]-critical)*durations[i] - critical*(cycle-durations[i])
		wprime += used[i]
	}

	remaining := make([]float64, n)
	spent := 0.0
	for i := range used {
		spent += used[i]
		remaining[i] = wprime - spent
	}

	tol := 1e-9 * math.Max(1, math.Abs(wprime))
	ratios := make([]float64, 0, n)
	for i := range remaining {
		if math.Abs(remaining[i]) <= tol {
			continue
		}
		ratios = append(ratios, (loads[i]-asym)/remaining[i])
	}
	alpha := stat.NanMedian(ratios)

	predicted := make([]float64, n)
	for i := range remaining {
		switch c.model {
		case ModelLinear:
			predicted[i] = asym + remaining[i]*(peak-asym)/wprime
		default:
			predicted[i] = asym + alpha*remaining[i]
		}
	}

	// W' = sum(load*duration) - n*critical*cycle, so its error combines the interval errors with the
	// critical load error
	varW := 0.0
	for i := range errs {
		varW += (durations[i] * errs[i]) * (durations[i] * errs[i])
	}
	varW += math.Pow(float64(n)*cycle*eCritical, 2)
	eWprime := math.Sqrt(varW)

	score := wprime / critical
	eScore := math.Abs(score) * math.Sqrt(math.Pow(eWprime/wprime, 2)+math.Pow(eCritical/critical, 2))

	return &Report{
		PeakLoad:        loads[0],
		EPeakLoad:       errs[0],
		CriticalLoad:    critical,
		ECriticalLoad:   eCritical,
		AsymptoticLoad:  asym,
		EAsymptoticLoad: eAsym,
		WorkCapacity:    wprime,
		EWorkCapacity:   eWprime,
		AnaerobicScore:  score,
		EAnaerobicScore: eScore,
		Alpha:           alpha,
		Model:           c.model,
		WorkSeconds:     work,
		RestSeconds:     rest,
		MidTimes:        midTimes(intervals),
		Loads:           loads,
		Remaining:       remaining,
		PredictedForce:  predicted,
		Intervals:       append([]Interval{}, intervals...),
		Partial:         n-1 < c.window,
	}, nil
}

func midTimes(intervals []Interval) []float64 {
	out := make([]float64, len(intervals))
	for i, iv := range intervals {
		out[i] = iv.MidTime
	}
	return out
}
