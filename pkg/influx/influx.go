// Package influx stores force samples and test results in InfluxDB.
package influx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/BTBurke/critforce/pkg/analysis"
)

// Measurement names
const (
	ForceMeasurement  = "force"
	ReportMeasurement = "critical_force"
)

const (
	DefaultBatchSize     = 500
	DefaultFlushInterval = time.Second
)

// ErrClosed is returned when writing to a closed recorder
var ErrClosed = errors.New("influx: recorder closed")

// PointWriter writes points synchronously.  It is satisfied by api.WriteAPIBlocking.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Config locates the InfluxDB bucket
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Enabled reports whether enough is configured to connect
func (c Config) Enabled() bool {
	return c.URL != "" && c.Bucket != ""
}

// Dial returns a blocking writer for the configured bucket and a function that releases the client
func Dial(cfg Config) (PointWriter, func(), error) {
	if !cfg.Enabled() {
		return nil, nil, fmt.Errorf("influx: url and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return client.WriteAPIBlocking(cfg.Org, cfg.Bucket), client.Close, nil
}

// Option configures a Recorder
type Option func(r *Recorder)

// WithBatchSize flushes once n samples are buffered
func WithBatchSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithFlushInterval flushes buffered samples at least this often
func WithFlushInterval(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithTags adds tags to every point
func WithTags(tags map[string]string) Option {
	return func(r *Recorder) {
		for k, v := range tags {
			r.tags[k] = v
		}
	}
}

// WithLogger sets the logger
func WithLogger(log *slog.Logger) Option {
	return func(r *Recorder) {
		if log != nil {
			r.log = log
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// Recorder is a sample sink that writes to InfluxDB in the background.  OnForceSample never blocks on the
// network; batches are written by Run.
type Recorder struct {
	w         PointWriter
	batchSize int
	interval  time.Duration
	tags      map[string]string
	log       *slog.Logger
	now       func() time.Time
	flush     chan struct{}

	mu      sync.Mutex
	pending []*write.Point
	base    time.Time
	last    float64
	closed  bool
	written int
}

// NewRecorder returns a recorder writing to w
func NewRecorder(w PointWriter, opts ...Option) *Recorder {
	r := &Recorder{
		w:         w,
		batchSize: DefaultBatchSize,
		interval:  DefaultFlushInterval,
		tags:      map[string]string{},
		log:       slog.New(slog.DiscardHandler),
		now:       time.Now,
		flush:     make(chan struct{}, 1),
		last:      math.Inf(1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnForceSample buffers a sample.  Device times restart from zero with every stream, so the wall clock
// at the first sample of a stream anchors the timestamps that follow.
func (r *Recorder) OnForceSample(t, load float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if t < r.last {
		r.base = r.now().Add(-seconds(t))
	}
	r.last = t

	p := influxdb2.NewPoint(ForceMeasurement, r.tags, map[string]interface{}{"load_kg": load}, r.base.Add(seconds(t)))
	r.pending = append(r.pending, p)
	if len(r.pending) >= r.batchSize {
		select {
		case r.flush <- struct{}{}:
		default:
		}
	}
}

// Run writes buffered samples until ctx is done, then writes whatever remains
func (r *Recorder) Run(ctx context.Context) error {
	tick := time.NewTicker(r.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return r.Flush(context.Background())
		case <-tick.C:
		case <-r.flush:
		}
		if err := r.Flush(ctx); err != nil {
			r.log.Warn("influx write failed", "error", err)
		}
	}
}

// Flush writes every buffered sample.  Samples from a failed write are dropped.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	if err := r.w.WritePoint(ctx, batch...); err != nil {
		return fmt.Errorf("influx: write %d samples: %w", len(batch), err)
	}
	r.mu.Lock()
	r.written += len(batch)
	r.mu.Unlock()
	return nil
}

// Written returns the number of samples written so far
func (r *Recorder) Written() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Close stops accepting samples and writes those still buffered
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.Flush(ctx)
}

// WriteReport stores the scalar estimates of a finished test as one point
func (r *Recorder) WriteReport(ctx context.Context, report *analysis.Report, tags map[string]string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.mu.Unlock()
	return r.w.WritePoint(ctx, ReportPoint(report, r.mergeTags(tags), r.now()))
}

func (r *Recorder) mergeTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(r.tags)+len(tags))
	for k, v := range r.tags {
		out[k] = v
	}
	for k, v := range tags {
		out[k] = v
	}
	return out
}

// ReportPoint converts a report into a point.  NaN estimates are left out since InfluxDB rejects them.
func ReportPoint(report *analysis.Report, tags map[string]string, ts time.Time) *write.Point {
	fields := map[string]interface{}{
		"peak_load_kg":                report.PeakLoad,
		"peak_load_kg_stderr":         report.EPeakLoad,
		"critical_load_kg":            report.CriticalLoad,
		"critical_load_kg_stderr":     report.ECriticalLoad,
		"asymptotic_load_kg":          report.AsymptoticLoad,
		"asymptotic_load_kg_stderr":   report.EAsymptoticLoad,
		"work_capacity_joules":        report.WorkCapacityJoules(),
		"work_capacity_joules_stderr": analysis.Gravity * report.EWorkCapacity,
		"anaerobic_score":             report.AnaerobicScore,
		"anaerobic_score_stderr":      report.EAnaerobicScore,
	}
	for k, v := range fields {
		if math.IsNaN(v.(float64)) || math.IsInf(v.(float64), 0) {
			delete(fields, k)
		}
	}
	fields["intervals"] = len(report.Intervals)
	fields["partial"] = report.Partial
	fields["model"] = report.Model.String()
	return influxdb2.NewPoint(ReportMeasurement, tags, fields, ts)
}

func seconds(t float64) time.Duration {
	return time.Duration(t * float64(time.Second))
}
