// Package rng provides the random sources behind the simulated device: measurement noise, notification batch
// sizes and reply latency.
package rng

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// RNG is a random number generator
type RNG interface {
	Rand() float64
}

var (
	_ RNG = &NormalRNG{}
	_ RNG = &LogNormalRNG{}
	_ RNG = &PoissonRNG{}
)

// source is a rand.Rand that is safe for concurrent use
type source struct {
	mu sync.Mutex
	r  *rand.Rand
}

func newSource(seed int64) *source {
	return &source{r: rand.New(rand.NewSource(seed))}
}

func (s *source) norm() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.NormFloat64()
}

func (s *source) uniform() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Float64()
}

// Seed returns a seed from the clock
func Seed() int64 {
	return time.Now().UnixNano()
}

// NormalRNG generates normally distributed numbers
type NormalRNG struct {
	mean  float64
	stdev float64
	src   *source
}

// NewNormalRNG returns a normal generator seeded with seed
func NewNormalRNG(mean, stdev float64, seed int64) *NormalRNG {
	return &NormalRNG{mean: mean, stdev: stdev, src: newSource(seed)}
}

// Rand returns the next number
func (r *NormalRNG) Rand() float64 {
	return r.src.norm()*r.stdev + r.mean
}

// LogNormalRNG generates numbers whose logarithm is normally distributed
type LogNormalRNG struct {
	mean  float64
	stdev float64
	src   *source
}

// NewLogNormalRNG returns a log normal generator.  mean and stdev are of the underlying normal.
func NewLogNormalRNG(mean, stdev float64, seed int64) *LogNormalRNG {
	return &LogNormalRNG{mean: mean, stdev: stdev, src: newSource(seed)}
}

// Rand returns the next number
func (r *LogNormalRNG) Rand() float64 {
	return math.Exp(r.src.norm()*r.stdev + r.mean)
}

// PoissonRNG generates Poisson distributed counts
type PoissonRNG struct {
	lambda float64
	src    *source
}

// NewPoissonRNG returns a Poisson generator with rate lambda
func NewPoissonRNG(lambda float64, seed int64) *PoissonRNG {
	return &PoissonRNG{lambda: lambda, src: newSource(seed)}
}

// Rand returns the next count.  Knuth's algorithm, suitable for the small rates used here.
func (r *PoissonRNG) Rand() float64 {
	limit := math.Exp(-r.lambda)
	k := 0
	p := 1.0
	for p > limit {
		k++
		p *= r.src.uniform()
	}
	return float64(k - 1)
}
