package metric

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeriesRecord(t *testing.T) {
	tt := []struct {
		name     string
		capacity int
		obs      []float64
		exp      []float64
	}{
		{name: "underfill", capacity: 5, obs: []float64{1, 2, 3}, exp: []float64{1, 2, 3}},
		{name: "fill", capacity: 5, obs: []float64{1, 2, 3, 4, 5}, exp: []float64{1, 2, 3, 4, 5}},
		{name: "overfill", capacity: 3, obs: []float64{1, 2, 3, 4, 5}, exp: []float64{3, 4, 5}},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := NewSeries(tc.capacity)
			for i, o := range tc.obs {
				s.Record(float64(i), o)
			}
			assert.Equal(t, tc.exp, s.Values())
			assert.Equal(t, len(tc.exp), s.Len())
			assert.Equal(t, len(tc.obs), s.Count())
		})
	}
}

func TestSeriesPointsOrder(t *testing.T) {
	s, err := NewSeries(2, WithPoints([]Point{{0.1, 1}, {0.2, 2}, {0.3, 3}}))
	require.NoError(t, err)
	assert.Equal(t, []Point{{0.2, 2}, {0.3, 3}}, s.Points())
}

func TestSeriesMeanReset(t *testing.T) {
	s, err := NewSeries(4, WithName("recent_load_kg", map[string]string{"device": "p1"}))
	require.NoError(t, err)
	assert.True(t, math.IsNaN(s.Mean()))

	s.Record(0, 2)
	s.Record(1, 4)
	assert.Equal(t, 3.0, s.Mean())
	assert.Equal(t, "recent_load_kg[device=p1]", s.Name())

	s.Reset()
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Values())
}

func TestNewSeriesCapacity(t *testing.T) {
	_, err := NewSeries(0)
	assert.Error(t, err)
}
