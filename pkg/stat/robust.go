// Package stat provides the robust summary statistics used to characterise each loaded interval of a
// force recording.  All standard deviations are population (divide by n) deviations.
package stat

import (
	"math"
	"sort"
)

const (
	// DefaultClipSigma is the number of standard deviations outside of which a value is rejected
	DefaultClipSigma float64 = 4.0
	// DefaultClipIterations is the number of rejection passes
	DefaultClipIterations int = 5
)

// Summary is the result of sigma clipping a set of observations
type Summary struct {
	Mean   float64
	Median float64
	Std    float64
	// N is the number of observations that survived clipping
	N int
}

// ClipOption changes the rejection parameters of SigmaClippedStats
type ClipOption func(c *clipper)

type clipper struct {
	sigma      float64
	iterations int
}

// WithSigma sets the rejection threshold in standard deviations
func WithSigma(sigma float64) ClipOption {
	return func(c *clipper) {
		c.sigma = sigma
	}
}

// WithIterations sets the number of rejection passes
func WithIterations(n int) ClipOption {
	return func(c *clipper) {
		c.iterations = n
	}
}

// SigmaClippedStats repeatedly rejects observations further than sigma standard deviations from the mean
// of the surviving set, then returns the mean, median and standard deviation of what is left.  A value exactly
// on the threshold is kept, so a constant series survives intact with a deviation of zero.  Non-finite
// values are ignored.  An empty input returns NaN for every statistic.
func SigmaClippedStats(values []float64, opts ...ClipOption) Summary {
	c := clipper{sigma: DefaultClipSigma, iterations: DefaultClipIterations}
	for _, opt := range opts {
		opt(&c)
	}

	kept := finite(values)
	if len(kept) == 0 {
		return Summary{Mean: math.NaN(), Median: math.NaN(), Std: math.NaN()}
	}

	for i := 0; i < c.iterations; i++ {
		m := Mean(kept)
		limit := c.sigma * Std(kept)
		next := kept[:0:0]
		for _, v := range kept {
			if math.Abs(v-m) <= limit {
				next = append(next, v)
			}
		}
		if len(next) == len(kept) || len(next) == 0 {
			break
		}
		kept = next
	}

	return Summary{
		Mean:   Mean(kept),
		Median: Median(kept),
		Std:    Std(kept),
		N:      len(kept),
	}
}

// Mean is the arithmetic mean, NaN for an empty slice
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Std is the population standard deviation, NaN for an empty slice
func Std(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	m := Mean(values)
	ss := 0.0
	for _, v := range values {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(len(values)))
}

// Median returns the middle value, or the mean of the two middle values for an even count.  The input is
// not modified.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return math.NaN()
	}
	sorted := append([]float64{}, values...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// NanMean is the mean of the finite values only
func NanMean(values []float64) float64 {
	return Mean(finite(values))
}

// NanStd is the population standard deviation of the finite values only
func NanStd(values []float64) float64 {
	return Std(finite(values))
}

// NanMedian is the median of the finite values only
func NanMedian(values []float64) float64 {
	return Median(finite(values))
}

// CountFinite returns the number of values that are neither NaN nor infinite
func CountFinite(values []float64) int {
	return len(finite(values))
}

// StdError is the standard error of a mean estimated from n observations
func StdError(std float64, n int) float64 {
	if n <= 0 {
		return math.NaN()
	}
	return std / math.Sqrt(float64(n))
}

func finite(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}
