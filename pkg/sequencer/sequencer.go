// Package sequencer runs the repeated work/rest protocol of a critical force test.  It is driven entirely by
// Tick calls from the caller's clock and never sleeps, so it can sit inside a UI or event loop.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/BTBurke/critforce/pkg/analysis"
	"github.com/BTBurke/critforce/pkg/eventbus"
	"github.com/BTBurke/critforce/pkg/fsm"
	"github.com/BTBurke/critforce/pkg/metric"
	"github.com/BTBurke/critforce/pkg/tracing"
)

// Test states
const (
	Idle      fsm.State = "idle"
	Countdown fsm.State = "countdown"
	Work      fsm.State = "work"
	Rest      fsm.State = "rest"
	Stopped   fsm.State = "stopped"
	Final     fsm.State = "final"
)

const (
	// Topic carries sequencer state changes
	Topic eventbus.Topic = "sequencer"

	// EventStateChange has a Transition as data
	EventStateChange eventbus.EventType = "state_change"
	// EventReport has the *analysis.Report as data
	EventReport eventbus.EventType = "report"

	// RecentWindow is the number of samples kept for display and the zero point
	RecentWindow = 1024
)

// ErrNotRunning is returned when an operation needs a state the sequencer is not in
var ErrNotRunning = errors.New("sequencer: operation not valid in current state")

// Transition is published on every state change
type Transition = fsm.Transition

// Streamer starts and stops the device sample stream
type Streamer interface {
	StartWeight(ctx context.Context) error
	StopWeight(ctx context.Context) error
}

// Analyser turns the live recording into a report
type Analyser func(times, loads []float64, workSeconds, restSeconds float64) (*analysis.Report, error)

// Mode decides where an aborted test ends up
type Mode int

const (
	// ModeTest keeps the partial recording for analysis after an abort
	ModeTest Mode = iota
	// ModeSingle discards it
	ModeSingle
)

func (m Mode) String() string {
	switch m {
	case ModeTest:
		return "test"
	case ModeSingle:
		return "single"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Config is the test protocol
type Config struct {
	Countdown   time.Duration
	Work        time.Duration
	Rest        time.Duration
	Repetitions int
	Mode        Mode
}

// DefaultConfig is the standard 24 x 7:3 protocol with a ten second countdown
func DefaultConfig() Config {
	return Config{
		Countdown:   10 * time.Second,
		Work:        7 * time.Second,
		Rest:        3 * time.Second,
		Repetitions: 24,
		Mode:        ModeTest,
	}
}

// Validate checks the protocol durations
func (c Config) Validate() error {
	switch {
	case c.Countdown < 0:
		return fmt.Errorf("sequencer: countdown must not be negative")
	case c.Work <= 0:
		return fmt.Errorf("sequencer: work must be positive")
	case c.Rest <= 0:
		return fmt.Errorf("sequencer: rest must be positive")
	case c.Repetitions < 1:
		return fmt.Errorf("sequencer: at least one repetition is required")
	}
	return nil
}

// Option configures a Sequencer
type Option func(s *Sequencer)

// WithAnalyser replaces the default analysis
func WithAnalyser(a Analyser) Option {
	return func(s *Sequencer) {
		if a != nil {
			s.analyse = a
		}
	}
}

// WithEventBus publishes state changes and reports on bus
func WithEventBus(bus *eventbus.EventBus) Option {
	return func(s *Sequencer) {
		s.bus = bus
	}
}

// WithLogger sets the logger
func WithLogger(log *slog.Logger) Option {
	return func(s *Sequencer) {
		if log != nil {
			s.log = log
		}
	}
}

// Sequencer is the test state machine.  It implements the session sink interface so that it can be
// registered directly to receive tared samples.
type Sequencer struct {
	cfg      Config
	streamer Streamer
	analyse  Analyser
	bus      *eventbus.EventBus
	log      *slog.Logger
	machine  *fsm.Machine
	recent   *metric.Series

	// opMu serializes operations that talk to the device
	opMu sync.Mutex

	mu         sync.Mutex
	phaseEnd   time.Time
	remaining  time.Duration
	repsLeft   int
	repetition int
	zero       float64
	live       bool
	times      []float64
	loads      []float64
	report     *analysis.Report
}

// New returns a sequencer in the Idle state
func New(cfg Config, streamer Streamer, opts ...Option) (*Sequencer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if streamer == nil {
		return nil, fmt.Errorf("sequencer: streamer is required")
	}
	recent, err := metric.NewSeries(RecentWindow, metric.WithName("force_kg", map[string]string{"window": "recent"}))
	if err != nil {
		return nil, err
	}

	s := &Sequencer{
		cfg:      cfg,
		streamer: streamer,
		log:      slog.New(slog.DiscardHandler),
		recent:   recent,
	}
	s.analyse = func(times, loads []float64, work, rest float64) (*analysis.Report, error) {
		return analysis.Analyse(times, loads, work, rest)
	}
	for _, opt := range opts {
		opt(s)
	}

	s.machine, err = fsm.NewMachine(Idle,
		fsm.WithTransitions(
			fsm.T(Idle, Countdown),
			fsm.T(Countdown, Work, Idle),
			fsm.T(Work, Rest, Stopped, Final),
			fsm.T(Rest, Work, Stopped, Final),
			fsm.T(Stopped, Final),
			fsm.T(Final, Idle),
		),
		fsm.WithHook(s.onTransition),
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sequencer) onTransition(t fsm.Transition) {
	s.log.Debug("sequencer transition", "step", t.String())
	if s.bus != nil {
		s.bus.Dispatch(eventbus.NewEvent(EventStateChange, t), Topic)
	}
}

// Config returns the test protocol
func (s *Sequencer) Config() Config {
	return s.cfg
}

// State returns the current state
func (s *Sequencer) State() fsm.State {
	return s.machine.State()
}

// OnForceSample records a tared sample.  Every sample goes into the recent window.  Between the end of the
// countdown and the end of the test, samples are also appended to the recording, relative to the zero point
// captured at Start.
func (s *Sequencer) OnForceSample(t, load float64) {
	s.recent.Record(t, load)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live {
		s.times = append(s.times, t)
		s.loads = append(s.loads, load-s.zero)
	}
}

// Start begins the countdown.  The zero point is taken as the mean of the recent window, or zero if nothing
// has been received yet, and the device is told to stream.
func (s *Sequencer) Start(ctx context.Context, now time.Time) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.machine.State() != Idle {
		return fmt.Errorf("%w: start from %s", ErrNotRunning, s.machine.State())
	}
	if err := s.streamer.StartWeight(ctx); err != nil {
		return fmt.Errorf("sequencer: start streaming: %w", err)
	}

	zero := s.recent.Mean()
	if math.IsNaN(zero) {
		zero = 0
	}

	s.mu.Lock()
	s.zero = zero
	s.phaseEnd = now.Add(s.cfg.Countdown)
	s.remaining = s.cfg.Countdown
	s.repsLeft = s.cfg.Repetitions
	s.repetition = 0
	s.report = nil
	s.mu.Unlock()

	s.log.Info("test starting", "zero_kg", zero, "repetitions", s.cfg.Repetitions, "mode", s.cfg.Mode)
	return s.machine.Transition(Countdown)
}

// Tick advances the test to now.  If ticks were missed, every phase boundary passed since the last tick is
// crossed in order.  Boundaries advance by the exact phase durations so late ticks do not accumulate drift.
// Reaching the end of the final rest stops the stream.
func (s *Sequencer) Tick(ctx context.Context, now time.Time) (fsm.State, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	for {
		state := s.machine.State()
		if state != Countdown && state != Work && state != Rest {
			return state, nil
		}

		s.mu.Lock()
		if now.Before(s.phaseEnd) {
			s.remaining = s.phaseEnd.Sub(now)
			s.mu.Unlock()
			return state, nil
		}
		s.mu.Unlock()

		if err := s.advance(ctx, state); err != nil {
			return s.machine.State(), err
		}
	}
}

// advance crosses the boundary at the end of the current phase
func (s *Sequencer) advance(ctx context.Context, state fsm.State) error {
	switch state {
	case Countdown:
		s.mu.Lock()
		s.times, s.loads = nil, nil
		s.live = true
		s.repetition = 1
		s.enter(s.cfg.Work)
		s.mu.Unlock()
		return s.machine.Transition(Work)

	case Work:
		s.mu.Lock()
		s.repsLeft--
		s.enter(s.cfg.Rest)
		s.mu.Unlock()
		return s.machine.Transition(Rest)

	case Rest:
		s.mu.Lock()
		done := s.repsLeft <= 0
		if !done {
			s.repetition++
			s.enter(s.cfg.Work)
		}
		s.mu.Unlock()
		if !done {
			return s.machine.Transition(Work)
		}
		s.log.Info("test complete", "repetitions", s.cfg.Repetitions)
		return s.stop(ctx, Stopped)
	}
	return nil
}

// enter starts a phase of length d at the previous boundary.  Caller holds mu.
func (s *Sequencer) enter(d time.Duration) {
	s.phaseEnd = s.phaseEnd.Add(d)
	s.remaining = d
}

// stop ends the stream and moves to the given state.  The recording is closed even if the device did not
// acknowledge the stop, the error is returned to the caller.
func (s *Sequencer) stop(ctx context.Context, to fsm.State) error {
	err := s.streamer.StopWeight(ctx)
	if err != nil {
		s.log.Warn("stop streaming", "error", err)
		err = fmt.Errorf("sequencer: stop streaming: %w", err)
	}

	s.mu.Lock()
	s.live = false
	s.remaining = 0
	if to == Final || to == Idle {
		s.times, s.loads = nil, nil
	}
	s.mu.Unlock()

	return errors.Join(err, s.machine.Transition(to))
}

// Abort cancels the test.  During the countdown the sequencer returns to Idle.  During work or rest it moves
// to Stopped in test mode, keeping the partial recording for Complete, or straight to Final in single mode.
// The stream is stopped before the state changes.
func (s *Sequencer) Abort(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	switch state := s.machine.State(); state {
	case Countdown:
		s.log.Info("countdown aborted")
		return s.stop(ctx, Idle)
	case Work, Rest:
		to := Stopped
		if s.cfg.Mode == ModeSingle {
			to = Final
		}
		s.mu.Lock()
		rep := s.repetition
		s.mu.Unlock()
		s.log.Info("test aborted", "repetition", rep, "to", to)
		return s.stop(ctx, to)
	default:
		return fmt.Errorf("%w: abort from %s", ErrNotRunning, state)
	}
}

// Complete analyses the recording and moves to Final.  If the analysis fails the sequencer stays in Stopped
// so that it can be retried, for example with a different analyser.
func (s *Sequencer) Complete(ctx context.Context) (report *analysis.Report, err error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	_, span := tracing.StartSpan(ctx, "sequencer.Complete")
	defer func() { tracing.End(span, err) }()

	if state := s.machine.State(); state != Stopped {
		return nil, fmt.Errorf("%w: complete from %s", ErrNotRunning, state)
	}

	times, loads := s.Recording()
	span.SetAttributes(tracing.Int("samples", len(times)))
	report, err = s.analyse(times, loads, s.cfg.Work.Seconds(), s.cfg.Rest.Seconds())
	if err != nil {
		return nil, fmt.Errorf("sequencer: analysis: %w", err)
	}

	s.mu.Lock()
	s.report = report
	s.mu.Unlock()

	if err := s.machine.Transition(Final); err != nil {
		return nil, err
	}
	if s.bus != nil {
		s.bus.Dispatch(eventbus.NewEvent(EventReport, report), Topic)
	}
	return report, nil
}

// Restart returns to Idle after a finished test.  The recording and report are discarded.
func (s *Sequencer) Restart() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.machine.Transition(Idle); err != nil {
		return err
	}
	s.mu.Lock()
	s.times, s.loads = nil, nil
	s.report = nil
	s.remaining = 0
	s.repetition = 0
	s.mu.Unlock()
	return nil
}

// Recording returns a copy of the live samples, relative to the zero point
func (s *Sequencer) Recording() (times, loads []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.times...), append([]float64(nil), s.loads...)
}

// Recent returns the most recent samples, as received
func (s *Sequencer) Recent() []metric.Point {
	return s.recent.Points()
}

// Report returns the report of the last completed test, or nil
func (s *Sequencer) Report() *analysis.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// ZeroPoint is the load subtracted from the recording
func (s *Sequencer) ZeroPoint() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zero
}

// Snapshot captures the presentation state as of the last Tick
func (s *Sequencer) Snapshot() Snapshot {
	state := s.machine.State()

	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:       state,
		Remaining:   s.remaining,
		Repetition:  s.repetition,
		Repetitions: s.cfg.Repetitions,
	}

	cycle := s.cfg.Work + s.cfg.Rest
	done := time.Duration(s.repetition-1) * cycle
	switch state {
	case Work:
		snap.Progress = progress(done+s.cfg.Work-s.remaining, cycle, s.cfg.Repetitions)
	case Rest:
		snap.Progress = progress(done+cycle-s.remaining, cycle, s.cfg.Repetitions)
	case Stopped, Final:
		if s.repsLeft <= 0 {
			snap.Progress = 1
		} else {
			snap.Progress = float64(s.cfg.Repetitions-s.repsLeft) / float64(s.cfg.Repetitions)
		}
	}
	return snap
}

func progress(elapsed, cycle time.Duration, reps int) float64 {
	p := float64(elapsed) / float64(cycle*time.Duration(reps))
	return math.Max(0, math.Min(1, p))
}
