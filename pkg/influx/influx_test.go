package influx

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTBurke/critforce/pkg/analysis"
)

type fakeWriter struct {
	mu     sync.Mutex
	points []*write.Point
	calls  int
	err    error
}

func (f *fakeWriter) WritePoint(ctx context.Context, point ...*write.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.points = append(f.points, point...)
	return nil
}

func (f *fakeWriter) get() []*write.Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*write.Point(nil), f.points...)
}

func fields(p *write.Point) map[string]interface{} {
	out := map[string]interface{}{}
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func tags(p *write.Point) map[string]string {
	out := map[string]string{}
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

var wall = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestRecorderTimestamps(t *testing.T) {
	w := &fakeWriter{}
	now := wall
	r := NewRecorder(w, WithClock(func() time.Time { return now }), WithTags(map[string]string{"device": "p1"}))

	r.OnForceSample(0.5, 10)
	r.OnForceSample(1.0, 11)
	// a new stream restarts device time
	now = wall.Add(time.Minute)
	r.OnForceSample(0.25, 12)

	require.NoError(t, r.Flush(context.Background()))
	points := w.get()
	require.Len(t, points, 3)

	assert.Equal(t, wall, points[0].Time())
	assert.Equal(t, wall.Add(500*time.Millisecond), points[1].Time())
	assert.Equal(t, wall.Add(time.Minute), points[2].Time())
	for i, load := range []float64{10, 11, 12} {
		assert.Equal(t, ForceMeasurement, points[i].Name())
		assert.Equal(t, map[string]interface{}{"load_kg": load}, fields(points[i]))
		assert.Equal(t, map[string]string{"device": "p1"}, tags(points[i]))
	}
	assert.Equal(t, 3, r.Written())
}

func TestRecorderBatches(t *testing.T) {
	w := &fakeWriter{}
	r := NewRecorder(w, WithBatchSize(2), WithFlushInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.OnForceSample(0.1, 1)
	r.OnForceSample(0.2, 2)
	assert.Eventually(t, func() bool { return len(w.get()) == 2 }, time.Second, time.Millisecond)

	// the remainder is written on shutdown
	r.OnForceSample(0.3, 3)
	cancel()
	require.NoError(t, <-done)
	assert.Len(t, w.get(), 3)
}

func TestRecorderWriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("unauthorized")}
	r := NewRecorder(w)
	r.OnForceSample(0.1, 1)

	err := r.Flush(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, r.Written())

	// the failed batch is not retried
	w.err = nil
	require.NoError(t, r.Flush(context.Background()))
	assert.Equal(t, 1, w.calls)
}

func TestRecorderClose(t *testing.T) {
	w := &fakeWriter{}
	r := NewRecorder(w)
	r.OnForceSample(0.1, 1)
	require.NoError(t, r.Close(context.Background()))
	r.OnForceSample(0.2, 2)
	require.NoError(t, r.Flush(context.Background()))

	assert.Len(t, w.get(), 1)
	assert.ErrorIs(t, r.WriteReport(context.Background(), &analysis.Report{}, nil), ErrClosed)
}

func TestWriteReport(t *testing.T) {
	w := &fakeWriter{}
	r := NewRecorder(w, WithClock(func() time.Time { return wall }), WithTags(map[string]string{"device": "p1"}))

	report := &analysis.Report{
		PeakLoad:        50,
		EPeakLoad:       0.5,
		CriticalLoad:    29.2,
		ECriticalLoad:   0.25,
		AsymptoticLoad:  41.75,
		EAsymptoticLoad: math.NaN(),
		WorkCapacity:    100,
		EWorkCapacity:   10,
		AnaerobicScore:  3.4,
		EAnaerobicScore: 0.5,
		Intervals:       make([]analysis.Interval, 6),
	}
	require.NoError(t, r.WriteReport(context.Background(), report, map[string]string{"run": "01HZ"}))

	points := w.get()
	require.Len(t, points, 1)
	p := points[0]
	assert.Equal(t, ReportMeasurement, p.Name())
	assert.Equal(t, wall, p.Time())
	assert.Equal(t, map[string]string{"device": "p1", "run": "01HZ"}, tags(p))

	f := fields(p)
	assert.Equal(t, 29.2, f["critical_load_kg"])
	assert.InDelta(t, 980.0, f["work_capacity_joules"], 1e-9)
	assert.InDelta(t, 98.0, f["work_capacity_joules_stderr"], 1e-9)
	assert.NotContains(t, f, "asymptotic_load_kg_stderr")
	assert.Equal(t, int64(6), f["intervals"])
	assert.Equal(t, false, f["partial"])
	assert.Equal(t, "decay", f["model"])
}

func TestConfigEnabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{URL: "http://localhost:8086", Bucket: "critforce"}.Enabled())

	_, _, err := Dial(Config{})
	assert.Error(t, err)
}
