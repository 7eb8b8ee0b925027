// Package critforce runs a critical force test on a Tindeq Progressor: it connects, zeroes the sensor,
// walks the athlete through the work/rest protocol and fits the critical load model to the recording.
package critforce

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/BTBurke/critforce/pkg/analysis"
	"github.com/BTBurke/critforce/pkg/ble"
	"github.com/BTBurke/critforce/pkg/eventbus"
	"github.com/BTBurke/critforce/pkg/fsm"
	"github.com/BTBurke/critforce/pkg/influx"
	"github.com/BTBurke/critforce/pkg/logger"
	"github.com/BTBurke/critforce/pkg/metric"
	"github.com/BTBurke/critforce/pkg/progressor"
	"github.com/BTBurke/critforce/pkg/sequencer"
	"github.com/BTBurke/critforce/pkg/sim"
	"github.com/BTBurke/critforce/pkg/ticker"
	"github.com/BTBurke/critforce/pkg/tracing"
)

// ErrAborted is returned when a test is cancelled before any pull was recorded
var ErrAborted = errors.New("test aborted")

// Test is one run of the protocol against one device
type Test struct {
	Config *Config
	Run    Run
	Report *analysis.Report
	// the tared recording from the start of the first pull
	Times []float64
	Loads []float64

	adapter progressor.Adapter
	points  influx.PointWriter
	sender  ReportSender
	errors  ErrorReporter
	bus     *eventbus.EventBus
	log     *slog.Logger
	out     io.Writer
	cleanup []func()
}

// TestOption replaces one of the collaborators a test would otherwise build from its configuration
type TestOption func(t *Test)

// WithAdapter uses adapter instead of Bluetooth or the simulator
func WithAdapter(adapter progressor.Adapter) TestOption {
	return func(t *Test) {
		t.adapter = adapter
	}
}

// WithPointWriter stores samples and the result through w instead of dialing InfluxDB
func WithPointWriter(w influx.PointWriter) TestOption {
	return func(t *Test) {
		t.points = w
	}
}

// WithReportSender uploads the result through s instead of the configured host
func WithReportSender(s ReportSender) TestOption {
	return func(t *Test) {
		t.sender = s
	}
}

// WithErrorReporter replaces the crash reporting service
func WithErrorReporter(e ErrorReporter) TestOption {
	return func(t *Test) {
		t.errors = e
	}
}

// WithLogger replaces the logger built from the log configuration
func WithLogger(log *slog.Logger) TestOption {
	return func(t *Test) {
		t.log = log
	}
}

// WithOutput sets where the progress and result are printed, stdout by default
func WithOutput(w io.Writer) TestOption {
	return func(t *Test) {
		t.out = w
	}
}

// New prepares a test.  The device is not contacted until Exec.
func New(cfg *Config, opts ...TestOption) (*Test, error) {
	if cfg == nil {
		return nil, fmt.Errorf("no configuration")
	}
	t := &Test{
		Config: cfg,
		Run:    Run{ID: NewRunID(), Label: cfg.ID, Mode: cfg.Mode.String()},
		errors: errorService{},
		bus:    eventbus.New(),
		out:    os.Stdout,
	}
	if cfg.NoErrorReports {
		t.errors = nil
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.log == nil {
		log, closer, err := logger.New(cfg.Log)
		if err != nil {
			return nil, err
		}
		t.log = log
		t.cleanup = append(t.cleanup, func() { _ = closer() })
	}
	t.log = t.log.With("run", t.Run.ID)

	if t.points == nil && cfg.Influx.Enabled() {
		w, closer, err := influx.Dial(cfg.Influx)
		if err != nil {
			return nil, err
		}
		t.points = w
		t.cleanup = append(t.cleanup, closer)
	}
	if t.sender == nil && cfg.Host != "" {
		t.sender = NewReporter(cfg.Host, cfg.UseTLS, t.errors)
	}
	return t, nil
}

// adapterFor builds the simulator or opens the Bluetooth adapter
func (t *Test) adapterFor() (progressor.Adapter, error) {
	if t.adapter != nil {
		return t.adapter, nil
	}
	if t.Config.Simulate {
		p := sim.DefaultProfile()
		p.Countdown = t.Config.Countdown
		p.Work = t.Config.Work
		p.Rest = t.Config.Rest
		p.Repetitions = t.Config.Repetitions
		return sim.New(sim.WithProfile(p), sim.WithLogger(t.log)), nil
	}
	return ble.NewAdapter(t.log)
}

// Exec runs the whole test: connect, tare, run the protocol, analyse, store and report.  Cancelling ctx
// aborts the protocol; in test mode what was recorded up to then is still analysed.
func (t *Test) Exec(ctx context.Context) (err error) {
	defer t.close()
	defer func() {
		if err != nil && t.errors != nil && unexpected(err) {
			t.errors.ReportError(err)
		}
	}()

	shutdown, err := tracing.Setup(ctx, tracing.Config{Enabled: t.Config.Tracing, Exporter: "stdout"})
	if err != nil {
		return err
	}
	defer func() {
		if serr := shutdown(context.Background()); serr != nil {
			t.log.Warn("trace shutdown", "error", serr)
		}
	}()

	ctx, span := tracing.StartSpan(ctx, "critforce.Exec")
	defer func() { tracing.End(span, err) }()

	watched := make(chan struct{})
	events, done := t.bus.Subscribe(progressor.Topic)
	go func() {
		defer close(watched)
		t.watch(events, done)
	}()
	defer func() {
		if serr := t.bus.Shutdown(context.Background()); serr != nil {
			t.log.Warn("event bus shutdown", "error", serr)
		}
		<-watched
	}()

	adapter, err := t.adapterFor()
	if err != nil {
		return err
	}
	opts := append(t.Config.Session(), progressor.WithEventBus(t.bus), progressor.WithLogger(t.log))
	session, err := progressor.Connect(ctx, adapter, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if derr := session.Disconnect(context.Background()); derr != nil {
			t.log.Warn("disconnect", "error", derr)
		}
	}()
	t.Run.Device = session.Name()
	t.describe(ctx, session)

	if !t.Config.NoTare {
		offset, err := session.SoftTare(ctx)
		if err != nil {
			return fmt.Errorf("tare: %w", err)
		}
		fmt.Fprintf(t.out, "zeroed at %.2f kg\n", offset)
	}

	return t.protocol(ctx, session)
}

// describe logs the battery and firmware.  Neither is needed to run a test, so each query gets ReplyTimeout
// and a missing reply is only a warning.
func (t *Test) describe(ctx context.Context, session *progressor.Session) {
	query := func(fn func(ctx context.Context) error) error {
		ctx, cancel := context.WithTimeout(ctx, t.Config.ReplyTimeout)
		defer cancel()
		return fn(ctx)
	}

	var mv uint32
	if err := query(func(ctx context.Context) (err error) {
		mv, err = session.BatteryVoltage(ctx)
		return err
	}); err != nil {
		t.log.Warn("battery voltage", "error", err)
	} else {
		t.log.Info("battery", "millivolts", mv)
	}
	var fw string
	if err := query(func(ctx context.Context) (err error) {
		fw, err = session.FirmwareVersion(ctx)
		return err
	}); err != nil {
		t.log.Warn("firmware version", "error", err)
	} else {
		t.Run.Firmware = fw
		t.log.Info("firmware", "version", fw)
	}
}

func (t *Test) protocol(ctx context.Context, session *progressor.Session) error {
	analyse := func(times, loads []float64, work, rest float64) (*analysis.Report, error) {
		return analysis.Analyse(times, loads, work, rest, t.Config.Analysis()...)
	}
	seq, err := sequencer.New(t.Config.Sequencer(), session,
		sequencer.WithAnalyser(analyse),
		sequencer.WithEventBus(t.bus),
		sequencer.WithLogger(t.log),
	)
	if err != nil {
		return err
	}

	rate := metric.NewWindowedCounter(time.Second)
	sinks := []progressor.Sink{seq, rate}
	var recorder *influx.Recorder
	recorded := make(chan struct{})
	recCtx, stopRecorder := context.WithCancel(context.Background())
	if t.points != nil {
		recorder = influx.NewRecorder(t.points, influx.WithLogger(t.log), influx.WithTags(map[string]string{
			"device": t.Run.Device,
			"run":    t.Run.ID,
		}))
		sinks = append(sinks, recorder)
		go func() {
			defer close(recorded)
			if err := recorder.Run(recCtx); err != nil {
				t.log.Warn("influx flush", "error", err)
			}
		}()
	} else {
		close(recorded)
	}
	defer func() {
		stopRecorder()
		<-recorded
	}()
	if _, err := session.SetSink(progressor.Tee(sinks...)); err != nil {
		return err
	}
	defer func() { _, _ = session.SetSink(nil) }()

	state, err := t.follow(ctx, seq)
	t.checkRate(rate)
	if err != nil {
		return err
	}

	switch state {
	case sequencer.Idle:
		return ErrAborted
	case sequencer.Final:
		// a single mode test that was cut short
		fmt.Fprintln(t.out, "test discarded")
		return ctx.Err()
	}

	t.Times, t.Loads = seq.Recording()
	if t.Config.Output != "" {
		if err := SaveRecording(t.Config.Output, t.Times, t.Loads); err != nil {
			t.log.Error("save recording", "path", t.Config.Output, "error", err)
		} else {
			t.log.Info("saved recording", "path", t.Config.Output, "samples", len(t.Times))
		}
	}

	report, err := seq.Complete(context.Background())
	if err != nil {
		return fmt.Errorf("analyse: %w", err)
	}
	t.Report = report
	t.Run.Finished = time.Now()
	fmt.Fprintln(t.out, report.Summary())

	if recorder != nil {
		if err := recorder.WriteReport(context.Background(), report, map[string]string{"mode": t.Run.Mode}); err != nil {
			t.log.Warn("influx report", "error", err)
		}
		if err := recorder.Close(context.Background()); err != nil {
			t.log.Warn("influx close", "error", err)
		}
	}
	if t.sender != nil {
		if err := t.sender.Send(context.Background(), t.Run, report); err != nil {
			t.log.Warn("report not sent", "error", err)
		}
	}
	return nil
}

// follow starts the sequencer and advances it on every clock tick until the protocol ends or ctx is
// cancelled, printing the status whenever it changes.  It returns the state the sequencer stopped in.
func (t *Test) follow(ctx context.Context, seq *sequencer.Sequencer) (fsm.State, error) {
	ticks, done := t.bus.Subscribe(ticker.Topic)
	defer func() {
		t.bus.Unsubscribe(ticks, done)
		close(done)
	}()

	clockCtx, stopClock := context.WithCancel(context.Background())
	stopped := ticker.Start(clockCtx, t.Config.TickInterval, t.bus)
	defer func() {
		stopClock()
		<-stopped
	}()

	if err := seq.Start(ctx, time.Now()); err != nil {
		return seq.State(), err
	}

	status := ""
	for {
		select {
		case <-ctx.Done():
			if err := seq.Abort(context.Background()); err != nil && !errors.Is(err, sequencer.ErrNotRunning) {
				t.log.Warn("abort", "error", err)
			}
			return seq.State(), nil
		case evt, open := <-ticks:
			if !open {
				return seq.State(), fmt.Errorf("clock stopped")
			}
			now, ok := evt.Data.(time.Time)
			if !ok {
				continue
			}
			state, err := seq.Tick(ctx, now)
			if err != nil {
				t.log.Warn("tick", "error", err)
			}
			if s := seq.Snapshot().String(); s != status {
				status = s
				fmt.Fprintln(t.out, status)
			}
			if state == sequencer.Stopped || state == sequencer.Final {
				return state, nil
			}
		}
	}
}

// checkRate logs the sample rate and warns about seconds that lost more than half their samples
func (t *Test) checkRate(rate *metric.WindowedCounter) {
	hz := rate.Rate()
	t.log.Info("samples received", "total", rate.Total(), "rate_hz", hz)
	short := 0
	for _, n := range rate.History() {
		if float64(n) < hz/2 {
			short++
		}
	}
	if short > 0 {
		t.log.Warn("samples lost on the link", "seconds_affected", short)
	}
}

// watch logs device warnings until the bus shuts down
func (t *Test) watch(events chan eventbus.Event, done chan struct{}) {
	defer close(done)
	for evt := range events {
		switch evt.EventType {
		case progressor.EventLowPower:
			t.log.Warn("device battery low")
			fmt.Fprintln(t.out, "warning: device battery low")
		case progressor.EventFrameError:
			t.log.Debug("frame error", "error", evt.Data)
		case progressor.EventDisconnected:
			t.log.Info("device disconnected")
		}
	}
}

// unexpected is false for the ways a test normally ends early
func unexpected(err error) bool {
	for _, expected := range []error{
		ErrAborted,
		context.Canceled,
		context.DeadlineExceeded,
		progressor.ErrDeviceNotFound,
		analysis.ErrInsufficientIntervals,
	} {
		if errors.Is(err, expected) {
			return false
		}
	}
	return true
}

func (t *Test) close() {
	for i := len(t.cleanup) - 1; i >= 0; i-- {
		t.cleanup[i]()
	}
	t.cleanup = nil
	if e, ok := t.errors.(errorService); ok {
		e.Flush()
	}
}
