package progressor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/time/rate"

	"github.com/BTBurke/critforce/pkg/eventbus"
	"github.com/BTBurke/critforce/pkg/logger"
	"github.com/BTBurke/critforce/pkg/tracing"
)

// Topic is the event bus topic for everything a session publishes
const Topic eventbus.Topic = "progressor"

// Event types published by a session
const (
	EventConnected    eventbus.EventType = "progressor.connected"
	EventDisconnected eventbus.EventType = "progressor.disconnected"
	EventCommandReply eventbus.EventType = "progressor.command_reply"
	EventLowPower     eventbus.EventType = "progressor.low_power"
	EventFrameError   eventbus.EventType = "progressor.frame_error"
	EventTare         eventbus.EventType = "progressor.tare"
)

const (
	DefaultScanTimeout = 30 * time.Second
	DefaultTareWindow  = 1 * time.Second
)

// Sink receives tared samples in device order
type Sink interface {
	OnForceSample(t, load float64)
}

// SinkFunc adapts a function to a Sink
type SinkFunc func(t, load float64)

// OnForceSample calls f(t, load)
func (f SinkFunc) OnForceSample(t, load float64) {
	f(t, load)
}

type tee []Sink

func (s tee) OnForceSample(t, load float64) {
	for _, sink := range s {
		sink.OnForceSample(t, load)
	}
}

// Tee returns a sink that passes every sample to each sink in order.  Nil sinks are skipped.
func Tee(sinks ...Sink) Sink {
	out := make(tee, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Status is the link state of a session
type Status int

const (
	Disconnected Status = iota
	Connected
)

func (s Status) String() string {
	switch s {
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Option configures a session
type Option func(o *options)

type options struct {
	filter      NameFilter
	scanTimeout time.Duration
	tareWindow  time.Duration
	codec       Codec
	sink        Sink
	bus         *eventbus.EventBus
	log         *slog.Logger
}

func newOptions(opts ...Option) options {
	o := options{
		filter:      NamePrefix(DefaultNamePrefix),
		scanTimeout: DefaultScanTimeout,
		tareWindow:  DefaultTareWindow,
		codec:       NewCodec(),
		log:         logger.Discard(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithNameFilter replaces the default "Progressor" name prefix match
func WithNameFilter(f NameFilter) Option {
	return func(o *options) {
		if f != nil {
			o.filter = f
		}
	}
}

// WithScanTimeout bounds how long Connect scans before giving up with ErrDeviceNotFound
func WithScanTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.scanTimeout = d
		}
	}
}

// WithTareWindow sets how long SoftTare collects samples
func WithTareWindow(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.tareWindow = d
		}
	}
}

// WithLowPowerKind sets the frame kind the firmware uses for low battery warnings
func WithLowPowerKind(k FrameKind) Option {
	return func(o *options) {
		o.codec.LowPowerKind = k
	}
}

// WithSink registers the initial sample sink
func WithSink(s Sink) Option {
	return func(o *options) {
		o.sink = s
	}
}

// WithEventBus publishes session events on bus under Topic
func WithEventBus(bus *eventbus.EventBus) Option {
	return func(o *options) {
		o.bus = bus
	}
}

// WithLogger sets the session logger
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// Session is a connection to one Progressor.  At most one reply-bearing command may be outstanding at a
// time, notifications are handled strictly in arrival order, and every sample has the tare offset subtracted
// exactly once before it reaches the sink.
type Session struct {
	name       string
	address    string
	dev        Device
	tx         io.Writer
	codec      Codec
	tareWindow time.Duration
	bus        *eventbus.EventBus
	log        *slog.Logger
	sometimes  rate.Sometimes

	writeMu  sync.Mutex
	notifyMu sync.Mutex

	mu        sync.Mutex
	connected bool
	pending   Opcode
	replies   chan reply
	sink      Sink
	offset    float64
	taring    bool
}

// Connect scans for a device accepted by the name filter, connects, resolves the Progressor service and
// subscribes to notifications.  Scanning is retried with backoff until the scan timeout; if nothing is found
// the error wraps ErrDeviceNotFound.  Any failure after a device is found wraps ErrConnectionFailed and
// releases the device.
func Connect(ctx context.Context, adapter Adapter, opts ...Option) (s *Session, err error) {
	o := newOptions(opts...)
	ctx, span := tracing.StartSpan(ctx, "progressor.Connect")
	defer func() { tracing.End(span, err) }()

	scanCtx, cancel := context.WithTimeout(ctx, o.scanTimeout)
	defer cancel()

	var beacon *Beacon
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = o.scanTimeout
	scan := func() error {
		found, err := adapter.ScanBeacon(scanCtx, o.filter)
		if err != nil {
			o.log.Debug("scan attempt failed", "error", err)
			return err
		}
		beacon = found
		return nil
	}
	if err := backoff.Retry(scan, backoff.WithContext(b, scanCtx)); err != nil || beacon == nil {
		return nil, fmt.Errorf("%w within %s: %v", ErrDeviceNotFound, o.scanTimeout, err)
	}
	span.SetAttributes(tracing.String("device.name", beacon.LocalName), tracing.String("device.address", beacon.Address))
	o.log.Info("found device", "name", beacon.LocalName, "address", beacon.Address, "rssi", beacon.RSSI)

	dev, err := adapter.Connect(ctx, beacon)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to %s: %v", ErrConnectionFailed, beacon.Address, err)
	}
	fail := func(step string, err error) (*Session, error) {
		if cerr := dev.Close(); cerr != nil {
			o.log.Warn("close after failed connect", "error", cerr)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrConnectionFailed, step, err)
	}

	svc, err := dev.Service(ctx, ServiceUUID)
	if err != nil {
		return fail("resolve service "+ServiceUUID, err)
	}
	tx, err := svc.Tx(WriteUUID)
	if err != nil {
		return fail("resolve write characteristic "+WriteUUID, err)
	}

	s = &Session{
		name:       beacon.LocalName,
		address:    beacon.Address,
		dev:        dev,
		tx:         tx,
		codec:      o.codec,
		tareWindow: o.tareWindow,
		bus:        o.bus,
		log:        o.log.With("device", beacon.LocalName),
		sometimes:  rate.Sometimes{First: 3, Interval: 10 * time.Second},
		connected:  true,
		replies:    make(chan reply, 1),
		sink:       o.sink,
	}
	if err := svc.Rx(NotifyUUID, s.HandleNotification); err != nil {
		return fail("subscribe to "+NotifyUUID, err)
	}

	s.log.Info("connected")
	s.publish(EventConnected, beacon, Topic)
	return s, nil
}

// WithSession connects, runs fn and always disconnects afterwards.  The disconnect error is returned only
// if fn succeeded.
func WithSession(ctx context.Context, adapter Adapter, fn func(*Session) error, opts ...Option) (err error) {
	s, err := Connect(ctx, adapter, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if derr := s.Disconnect(context.Background()); derr != nil && err == nil {
			err = derr
		}
	}()
	return fn(s)
}

// Name returns the advertised name of the connected device
func (s *Session) Name() string {
	return s.name
}

// Address returns the BLE address of the connected device
func (s *Session) Address() string {
	return s.address
}

// Status returns the link state
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return Connected
	}
	return Disconnected
}

// Offset returns the tare offset in kg subtracted from every sample
func (s *Session) Offset() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// Pending returns the reply-bearing command awaiting its reply, or OpNone
func (s *Session) Pending() Opcode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// SetSink replaces the sample sink and returns the previous one.  The sink cannot be replaced while a soft
// tare is running.
func (s *Session) SetSink(sink Sink) (Sink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.taring {
		return nil, ErrTareInProgress
	}
	prev := s.sink
	s.sink = sink
	return prev, nil
}

// SendCommand writes a command to the device without waiting for any reply.  A reply-bearing command is
// recorded as pending before it is written; sending another while one is pending fails with
// ErrCommandInFlight.  Write failures are returned to the caller and never retried.
func (s *Session) SendCommand(ctx context.Context, op Opcode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if op.HasReply() {
		if s.pending != OpNone {
			pending := s.pending
			s.mu.Unlock()
			return fmt.Errorf("%w: %s is pending, cannot send %s", ErrCommandInFlight, pending, op)
		}
		s.pending = op
		// discard a reply left over from a request that was abandoned
		select {
		case <-s.replies:
		default:
		}
	}
	s.mu.Unlock()

	s.writeMu.Lock()
	_, err := s.tx.Write(EncodeCommand(op))
	s.writeMu.Unlock()
	if err != nil {
		if op.HasReply() {
			s.clearPending(op)
		}
		return fmt.Errorf("progressor: write %s: %w", op, err)
	}
	s.log.Debug("sent command", "opcode", op)
	return nil
}

// Request sends a reply-bearing command and waits for its reply.  If ctx ends first the pending slot is
// released and a reply arriving later is logged and dropped.
func (s *Session) Request(ctx context.Context, op Opcode) (CommandReply, error) {
	if !op.HasReply() {
		return CommandReply{}, fmt.Errorf("progressor: %s does not return a reply", op)
	}
	if err := s.SendCommand(ctx, op); err != nil {
		return CommandReply{}, err
	}
	select {
	case r := <-s.replies:
		return r.reply, r.err
	case <-ctx.Done():
		s.clearPending(op)
		return CommandReply{}, fmt.Errorf("progressor: waiting for %s reply: %w", op, ctx.Err())
	}
}

// reply is the outcome of a reply-bearing command
type reply struct {
	reply CommandReply
	err   error
}

func (s *Session) deliver(r reply) {
	select {
	case s.replies <- r:
	default:
	}
}

func (s *Session) clearPending(op Opcode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == op {
		s.pending = OpNone
	}
}

// HandleNotification decodes and dispatches one notification frame.  It is the callback registered on the
// notify characteristic and is safe to call from any goroutine; frames are handled one at a time in the
// order the calls are made.  Frames that cannot be decoded are logged and skipped; an undecodable command
// response still releases the pending command and fails its waiting Request.
func (s *Session) HandleNotification(frame []byte) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()

	evt, err := s.codec.Decode(frame, pending)
	if err != nil {
		s.sometimes.Do(func() {
			s.log.Warn("skipping undecodable frame", "error", err, "frame", fmt.Sprintf("% x", frame))
		})
		s.publish(EventFrameError, err, Topic, eventbus.OnErrorTopic())

		var perr ProtocolError
		if pending != OpNone && errors.As(err, &perr) && perr.Kind == KindCommandResponse {
			s.clearPending(pending)
			s.deliver(reply{err: fmt.Errorf("progressor: %s reply: %w", pending, err)})
		}
		return
	}

	switch e := evt.(type) {
	case SampleBatch:
		s.mu.Lock()
		sink, offset := s.sink, s.offset
		s.mu.Unlock()
		if sink == nil {
			return
		}
		for _, sample := range e.Samples {
			sink.OnForceSample(sample.Time, sample.Load-offset)
		}

	case CommandReply:
		s.mu.Lock()
		solicited := s.pending != OpNone && s.pending == e.Opcode
		if solicited {
			s.pending = OpNone
		}
		s.mu.Unlock()

		if !solicited {
			s.log.Debug("dropping unsolicited command response", "bytes", len(e.Raw))
			return
		}
		s.log.Debug("command reply", "opcode", e.Opcode, "firmware", e.FirmwareVersion, "battery_mv", e.BatteryMillivolts, "error_info", e.ErrorInfo)
		s.deliver(reply{reply: e})
		s.publish(EventCommandReply, e, Topic)

	case LowPowerWarning:
		s.log.Warn("device battery low")
		s.publish(EventLowPower, e, Topic)
	}
}

// Disconnect puts the device to sleep and releases the link.  Both steps are always attempted and their
// errors joined.  Disconnecting a disconnected session does nothing.
func (s *Session) Disconnect(ctx context.Context) error {
	if s.Status() == Disconnected {
		return nil
	}

	var errs []error
	if err := s.SendCommand(ctx, Sleep); err != nil {
		errs = append(errs, err)
	}

	s.mu.Lock()
	s.connected = false
	s.pending = OpNone
	s.mu.Unlock()

	if err := s.dev.Close(); err != nil {
		errs = append(errs, fmt.Errorf("progressor: close: %w", err))
	}
	s.log.Info("disconnected")
	s.publish(EventDisconnected, s.name, Topic)
	return errors.Join(errs...)
}

func (s *Session) publish(evt eventbus.EventType, data interface{}, topics ...eventbus.Topic) {
	if s.bus == nil {
		return
	}
	s.bus.Dispatch(eventbus.NewEvent(evt, data), topics...)
}
