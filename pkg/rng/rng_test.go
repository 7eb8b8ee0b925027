package rng

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

const draws = 10000

func moments(values []float64) (mean, std float64) {
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		std += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(std / float64(len(values)-1))
}

func sample(r RNG, transform func(float64) float64) []float64 {
	out := make([]float64, draws)
	for i := range out {
		out[i] = transform(r.Rand())
	}
	return out
}

func identity(v float64) float64 { return v }

func TestDistributions(t *testing.T) {
	tt := []struct {
		Name      string
		RNG       RNG
		Transform func(float64) float64
		Mean      float64
		Std       float64
	}{
		{Name: "normal", RNG: NewNormalRNG(2.0, 0.5, 1), Transform: identity, Mean: 2.0, Std: 0.5},
		{Name: "log normal", RNG: NewLogNormalRNG(5.0, 1.0, 2), Transform: math.Log, Mean: 5.0, Std: 1.0},
		{Name: "poisson", RNG: NewPoissonRNG(4.0, 3), Transform: identity, Mean: 4.0, Std: 2.0},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			mean, std := moments(sample(tc.RNG, tc.Transform))
			assert.InDelta(t, tc.Mean, mean, 0.1)
			assert.InDelta(t, tc.Std, std, 0.1)
		})
	}
}

func TestSeeded(t *testing.T) {
	a := NewNormalRNG(0, 1, 42)
	b := NewNormalRNG(0, 1, 42)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Rand(), b.Rand())
	}
}
