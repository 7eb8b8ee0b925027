package progressor

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTBurke/critforce/pkg/eventbus"
)

// fakeDevice records every command written to it and answers through respond, which runs synchronously
// inside Write
type fakeDevice struct {
	mu       sync.Mutex
	written  []Opcode
	rx       func([]byte)
	respond  func(d *fakeDevice, op Opcode)
	writeErr error
	svcErr   error
	rxErr    error
	closed   int
}

func (d *fakeDevice) Service(ctx context.Context, uuid string) (Service, error) {
	if d.svcErr != nil {
		return nil, d.svcErr
	}
	return d, nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

func (d *fakeDevice) Rx(uuid string, callback func(buf []byte)) error {
	if d.rxErr != nil {
		return d.rxErr
	}
	d.rx = callback
	return nil
}

func (d *fakeDevice) Tx(uuid string) (io.Writer, error) {
	return d, nil
}

func (d *fakeDevice) Write(p []byte) (int, error) {
	if d.writeErr != nil {
		return 0, d.writeErr
	}
	op := Opcode(binary.LittleEndian.Uint16(p))
	d.mu.Lock()
	d.written = append(d.written, op)
	d.mu.Unlock()
	if d.respond != nil {
		d.respond(d, op)
	}
	return len(p), nil
}

func (d *fakeDevice) commands() []Opcode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Opcode{}, d.written...)
}

func (d *fakeDevice) notify(frame []byte) {
	d.rx(frame)
}

type fakeAdapter struct {
	beacon  *Beacon
	dev     *fakeDevice
	connErr error
	scans   int
}

func (a *fakeAdapter) ScanBeacon(ctx context.Context, match NameFilter) (*Beacon, error) {
	a.scans++
	if a.beacon != nil && match(a.beacon.LocalName) {
		return a.beacon, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (a *fakeAdapter) Connect(ctx context.Context, beacon *Beacon) (Device, error) {
	if a.connErr != nil {
		return nil, a.connErr
	}
	return a.dev, nil
}

func newFake(respond func(d *fakeDevice, op Opcode)) (*fakeAdapter, *fakeDevice) {
	dev := &fakeDevice{respond: respond}
	return &fakeAdapter{beacon: &Beacon{Address: "AA:BB", LocalName: "Progressor_1234"}, dev: dev}, dev
}

// recorder is a sink that keeps every sample
type recorder struct {
	mu      sync.Mutex
	samples []Sample
}

func (r *recorder) OnForceSample(t, load float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, Sample{Time: t, Load: load})
}

func (r *recorder) get() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sample{}, r.samples...)
}

func batteryReply(mv uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, mv)
	return EncodeFrame(KindCommandResponse, b)
}

func TestConnect(t *testing.T) {
	adapter, dev := newFake(nil)
	s, err := Connect(context.Background(), adapter)
	require.NoError(t, err)
	assert.Equal(t, "Progressor_1234", s.Name())
	assert.Equal(t, "AA:BB", s.Address())
	assert.Equal(t, Connected, s.Status())
	assert.NotNil(t, dev.rx)
}

func TestConnectErrors(t *testing.T) {
	tt := []struct {
		Name        string
		Setup       func(a *fakeAdapter)
		Opts        []Option
		Err         error
		ExpectClose bool
	}{
		{Name: "no device", Setup: func(a *fakeAdapter) { a.beacon = nil }, Err: ErrDeviceNotFound},
		{Name: "name filter rejects", Setup: func(a *fakeAdapter) {}, Opts: []Option{WithNameFilter(NamePrefix("Forceboard"))}, Err: ErrDeviceNotFound},
		{Name: "connect fails", Setup: func(a *fakeAdapter) { a.connErr = errors.New("refused") }, Err: ErrConnectionFailed},
		{Name: "service missing", Setup: func(a *fakeAdapter) { a.dev.svcErr = errors.New("no service") }, Err: ErrConnectionFailed, ExpectClose: true},
		{Name: "subscribe fails", Setup: func(a *fakeAdapter) { a.dev.rxErr = errors.New("no cccd") }, Err: ErrConnectionFailed, ExpectClose: true},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			adapter, dev := newFake(nil)
			tc.Setup(adapter)
			opts := append([]Option{WithScanTimeout(50 * time.Millisecond)}, tc.Opts...)

			s, err := Connect(context.Background(), adapter, opts...)
			assert.Nil(t, s)
			assert.ErrorIs(t, err, tc.Err)
			if tc.ExpectClose {
				assert.Equal(t, 1, dev.closed)
			}
		})
	}
}

func TestCommandInFlight(t *testing.T) {
	// the device never answers
	adapter, dev := newFake(nil)
	s, err := Connect(context.Background(), adapter)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.SendCommand(ctx, GetBatteryVoltage))
	assert.Equal(t, GetBatteryVoltage, s.Pending())

	err = s.SendCommand(ctx, GetAppVersion)
	assert.ErrorIs(t, err, ErrCommandInFlight)

	// commands without a reply are not blocked and leave the pending command alone
	assert.NoError(t, s.StartWeight(ctx))
	assert.Equal(t, GetBatteryVoltage, s.Pending())
	assert.Equal(t, []Opcode{GetBatteryVoltage, StartWeightMeas}, dev.commands())

	// the reply frees the slot
	dev.notify(batteryReply(3700))
	assert.Equal(t, OpNone, s.Pending())
	assert.NoError(t, s.SendCommand(ctx, GetAppVersion))
}

func TestRequest(t *testing.T) {
	adapter, _ := newFake(func(d *fakeDevice, op Opcode) {
		switch op {
		case GetBatteryVoltage:
			d.notify(batteryReply(3850))
		case GetAppVersion:
			d.notify(EncodeFrame(KindCommandResponse, []byte("1.3.4")))
		case GetErrorInfo:
			d.notify(EncodeFrame(KindCommandResponse, []byte("none")))
		}
	})
	bus := eventbus.New()
	events, _ := bus.Subscribe(Topic)
	s, err := Connect(context.Background(), adapter, WithEventBus(bus))
	require.NoError(t, err)
	assert.Equal(t, EventConnected, (<-events).EventType)

	ctx := context.Background()
	mv, err := s.BatteryVoltage(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(3850), mv)
	assert.Equal(t, OpNone, s.Pending())
	assert.Equal(t, EventCommandReply, (<-events).EventType)

	version, err := s.FirmwareVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.3.4", version)

	info, err := s.ErrorInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "none", info)

	_, err = s.Request(ctx, StartWeightMeas)
	assert.Error(t, err)
}

func TestRequestTimeout(t *testing.T) {
	adapter, dev := newFake(nil)
	s, err := Connect(context.Background(), adapter)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.BatteryVoltage(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, OpNone, s.Pending())

	// a late reply is dropped and does not satisfy the next request
	dev.notify(batteryReply(1))
	dev.respond = func(d *fakeDevice, op Opcode) {
		d.notify(batteryReply(3900))
	}
	mv, err := s.BatteryVoltage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(3900), mv)
}

func TestMalformedReply(t *testing.T) {
	short := EncodeFrame(KindCommandResponse, []byte{0x74, 0x0e})
	tt := []struct {
		Name    string
		Respond func(d *fakeDevice, op Opcode)
		Waiter  bool
	}{
		{Name: "fire and forget", Respond: nil},
		{Name: "waiting request fails", Respond: func(d *fakeDevice, op Opcode) { d.notify(short) }, Waiter: true},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			adapter, dev := newFake(tc.Respond)
			s, err := Connect(context.Background(), adapter)
			require.NoError(t, err)

			if tc.Waiter {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				start := time.Now()
				_, err := s.BatteryVoltage(ctx)
				var perr ProtocolError
				require.ErrorAs(t, err, &perr)
				assert.Equal(t, KindCommandResponse, perr.Kind)
				assert.ErrorIs(t, err, ErrMalformedPayload)
				assert.Less(t, time.Since(start), time.Second)
			} else {
				require.NoError(t, s.SendCommand(context.Background(), GetBatteryVoltage))
				dev.notify(short)
			}
			assert.Equal(t, OpNone, s.Pending())

			// the session keeps working
			dev.respond = func(d *fakeDevice, op Opcode) {
				d.notify(EncodeFrame(KindCommandResponse, []byte("1.3.4")))
			}
			version, err := s.FirmwareVersion(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "1.3.4", version)
		})
	}
}

func TestWriteFailureClearsPending(t *testing.T) {
	adapter, dev := newFake(nil)
	s, err := Connect(context.Background(), adapter)
	require.NoError(t, err)

	dev.writeErr = errors.New("link lost")
	err = s.SendCommand(context.Background(), GetAppVersion)
	assert.ErrorIs(t, err, dev.writeErr)
	assert.Equal(t, OpNone, s.Pending())
}

func TestHandleNotificationOrderAndOffset(t *testing.T) {
	rec := &recorder{}
	adapter, dev := newFake(nil)
	bus := eventbus.New()
	errs, _ := bus.Subscribe(eventbus.OnErrorTopic())
	s, err := Connect(context.Background(), adapter, WithSink(rec), WithEventBus(bus))
	require.NoError(t, err)

	s.mu.Lock()
	s.offset = 0.5
	s.mu.Unlock()

	dev.notify(EncodeWeightBatch([]Sample{{Time: 0.5, Load: 10.5}, {Time: 0.75, Load: 11.5}}))
	dev.notify([]byte{9, 1, 0})
	dev.notify(EncodeWeightBatch([]Sample{{Time: 1.0, Load: 12.5}}))

	assert.Equal(t, []Sample{{0.5, 10}, {0.75, 11}, {1.0, 12}}, rec.get())
	evt := <-errs
	assert.Equal(t, EventFrameError, evt.EventType)
	assert.ErrorIs(t, evt.Data.(error), ErrUnknownFrameKind)
}

func TestLowPowerEvent(t *testing.T) {
	adapter, dev := newFake(nil)
	bus := eventbus.New()
	s, err := Connect(context.Background(), adapter, WithEventBus(bus), WithLowPowerKind(2))
	require.NoError(t, err)
	require.NotNil(t, s)

	events, _ := bus.Subscribe(Topic)
	dev.notify(EncodeFrame(2, nil))
	assert.Equal(t, EventLowPower, (<-events).EventType)
}

func TestSetSink(t *testing.T) {
	first, second := &recorder{}, &recorder{}
	adapter, dev := newFake(nil)
	s, err := Connect(context.Background(), adapter, WithSink(first))
	require.NoError(t, err)

	prev, err := s.SetSink(second)
	require.NoError(t, err)
	assert.Equal(t, first, prev)

	dev.notify(EncodeWeightBatch([]Sample{{Time: 1, Load: 1}}))
	assert.Empty(t, first.get())
	assert.Len(t, second.get(), 1)
}

func TestTee(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	sink := Tee(a, nil, b)
	sink.OnForceSample(1, 2)
	assert.Equal(t, []Sample{{1, 2}}, a.get())
	assert.Equal(t, []Sample{{1, 2}}, b.get())
}

func TestDisconnect(t *testing.T) {
	adapter, dev := newFake(nil)
	s, err := Connect(context.Background(), adapter)
	require.NoError(t, err)

	require.NoError(t, s.Disconnect(context.Background()))
	assert.Equal(t, []Opcode{Sleep}, dev.commands())
	assert.Equal(t, 1, dev.closed)
	assert.Equal(t, Disconnected, s.Status())

	// idempotent
	require.NoError(t, s.Disconnect(context.Background()))
	assert.Equal(t, 1, dev.closed)
	assert.ErrorIs(t, s.StartWeight(context.Background()), ErrNotConnected)
}

func TestDisconnectStillClosesOnSleepFailure(t *testing.T) {
	adapter, dev := newFake(nil)
	s, err := Connect(context.Background(), adapter)
	require.NoError(t, err)

	dev.writeErr = errors.New("link lost")
	err = s.Disconnect(context.Background())
	assert.ErrorIs(t, err, dev.writeErr)
	assert.Equal(t, 1, dev.closed)
}

func TestWithSession(t *testing.T) {
	adapter, dev := newFake(nil)
	boom := errors.New("boom")
	err := WithSession(context.Background(), adapter, func(s *Session) error {
		require.NoError(t, s.StartWeight(context.Background()))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []Opcode{StartWeightMeas, Sleep}, dev.commands())
	assert.Equal(t, 1, dev.closed)
}
