package sim

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/BTBurke/critforce/pkg/progressor"
	"github.com/BTBurke/critforce/pkg/rng"
)

const (
	// DefaultName is the advertised name of the simulated device
	DefaultName = "Progressor_SIM"
	// DefaultRate is the sample rate in Hz
	DefaultRate = 80.0

	// maxBatch is the most weight records that fit in one frame
	maxBatch = 31
)

// Option configures a simulated device
type Option func(d *Device)

// WithProfile sets the force profile replayed after each START_WEIGHT_MEAS
func WithProfile(p Profile) Option {
	return func(d *Device) {
		d.profile = p
	}
}

// WithName sets the advertised name
func WithName(name string) Option {
	return func(d *Device) {
		d.name = name
	}
}

// WithNoise sets the standard deviation of the measurement noise in kg
func WithNoise(std float64) Option {
	return func(d *Device) {
		d.noiseStd = std
	}
}

// WithRate sets the sample rate in Hz
func WithRate(hz float64) Option {
	return func(d *Device) {
		if hz > 0 {
			d.rate = hz
		}
	}
}

// WithSeed makes the noise reproducible
func WithSeed(seed int64) Option {
	return func(d *Device) {
		d.seed = seed
	}
}

// WithBias adds a constant load to every raw sample, like a hangboard hanging from the sensor.  A hardware
// tare removes it.
func WithBias(kg float64) Option {
	return func(d *Device) {
		d.bias = kg
	}
}

// WithBattery sets the reported battery voltage in millivolts
func WithBattery(mv uint32) Option {
	return func(d *Device) {
		d.batteryMV = mv
	}
}

// WithLogger sets the logger
func WithLogger(log *slog.Logger) Option {
	return func(d *Device) {
		if log != nil {
			d.log = log
		}
	}
}

// Device is a simulated Progressor.  It is its own adapter, GATT service and write characteristic.
type Device struct {
	name      string
	address   string
	profile   Profile
	rate      float64
	noiseStd  float64
	bias      float64
	seed      int64
	batteryMV uint32
	firmware  string
	log       *slog.Logger

	noise   rng.RNG
	batch   rng.RNG
	latency rng.RNG

	mu        sync.Mutex
	connected bool
	notify    func([]byte)
	stop      context.CancelFunc
	stopped   chan struct{}
	offset    float64
	commands  []progressor.Opcode
}

var (
	_ progressor.Adapter = &Device{}
	_ progressor.Device  = &Device{}
	_ progressor.Service = &Device{}
)

// New returns a simulated device that has not been connected
func New(opts ...Option) *Device {
	d := &Device{
		name:      DefaultName,
		address:   "00:00:00:00:00:00",
		profile:   DefaultProfile(),
		rate:      DefaultRate,
		noiseStd:  0.05,
		seed:      rng.Seed(),
		batteryMV: 3900,
		firmware:  "1.2.3-sim",
		log:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.noise = rng.NewNormalRNG(0, d.noiseStd, d.seed)
	d.batch = rng.NewPoissonRNG(4, d.seed+1)
	d.latency = rng.NewLogNormalRNG(math.Log(0.02), 0.3, d.seed+2)
	return d
}

// ScanBeacon advertises the device if the filter accepts its name, otherwise it waits for ctx like a scan that
// never finds anything
func (d *Device) ScanBeacon(ctx context.Context, match progressor.NameFilter) (*progressor.Beacon, error) {
	if match == nil || match(d.name) {
		return &progressor.Beacon{Address: d.address, LocalName: d.name, RSSI: -42}, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

// Connect accepts the connection
func (d *Device) Connect(ctx context.Context, beacon *progressor.Beacon) (progressor.Device, error) {
	if beacon == nil || beacon.Address != d.address {
		return nil, fmt.Errorf("sim: unknown device")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = true
	return d, nil
}

// Service resolves the Progressor service
func (d *Device) Service(ctx context.Context, uuid string) (progressor.Service, error) {
	if uuid != progressor.ServiceUUID {
		return nil, fmt.Errorf("sim: no service %s", uuid)
	}
	return d, nil
}

// Rx registers the notification callback
func (d *Device) Rx(uuid string, callback func(buf []byte)) error {
	if uuid != progressor.NotifyUUID {
		return fmt.Errorf("sim: no notify characteristic %s", uuid)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notify = callback
	return nil
}

// Tx returns the command writer
func (d *Device) Tx(uuid string) (io.Writer, error) {
	if uuid != progressor.WriteUUID {
		return nil, fmt.Errorf("sim: no write characteristic %s", uuid)
	}
	return d, nil
}

// Close drops the link and stops streaming
func (d *Device) Close() error {
	d.halt()
	d.mu.Lock()
	d.connected = false
	d.notify = nil
	d.mu.Unlock()
	return nil
}

// Commands returns the opcodes received so far
func (d *Device) Commands() []progressor.Opcode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]progressor.Opcode(nil), d.commands...)
}

// Write handles one command frame
func (d *Device) Write(p []byte) (int, error) {
	if len(p) != 2 {
		return 0, fmt.Errorf("sim: command must be 2 bytes, got %d", len(p))
	}
	op := progressor.Opcode(binary.LittleEndian.Uint16(p))

	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return 0, fmt.Errorf("sim: not connected")
	}
	d.commands = append(d.commands, op)
	d.mu.Unlock()
	d.log.Debug("sim command", "opcode", op)

	switch op {
	case progressor.StartWeightMeas:
		d.start()
	case progressor.StopWeightMeas:
		d.halt()
	case progressor.TareScale:
		d.mu.Lock()
		d.offset = d.bias
		d.mu.Unlock()
	case progressor.Sleep:
		go d.Close()
	case progressor.GetAppVersion:
		d.reply(append([]byte(d.firmware), 0))
	case progressor.GetBatteryVoltage:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, d.batteryMV)
		d.reply(buf)
	case progressor.GetErrorInfo:
		d.reply([]byte("no errors"))
	}
	return len(p), nil
}

// reply sends a command response after a short random delay
func (d *Device) reply(payload []byte) {
	delay := time.Duration(d.latency.Rand() * float64(time.Second))
	time.AfterFunc(delay, func() {
		d.send(progressor.EncodeFrame(progressor.KindCommandResponse, payload))
	})
}

func (d *Device) send(frame []byte) {
	d.mu.Lock()
	notify := d.notify
	d.mu.Unlock()
	if notify != nil {
		notify(frame)
	}
}

// start replays the profile from the beginning.  A running stream is restarted.
func (d *Device) start() {
	d.halt()

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	d.mu.Lock()
	d.stop, d.stopped = cancel, stopped
	d.mu.Unlock()

	go func() {
		defer close(stopped)
		d.stream(ctx)
	}()
}

// halt stops the stream and waits for the last frame to be sent
func (d *Device) halt() {
	d.mu.Lock()
	stop, stopped := d.stop, d.stopped
	d.stop, d.stopped = nil, nil
	d.mu.Unlock()
	if stop != nil {
		stop()
		<-stopped
	}
}

// stream sends batches of samples in real time.  Sample times are microseconds since the stream started.
func (d *Device) stream(ctx context.Context) {
	period := time.Duration(float64(time.Second) / d.rate)
	begin := time.Now()
	next := 0

	for {
		n := int(d.batch.Rand())
		if n < 1 {
			n = 1
		}
		if n > maxBatch {
			n = maxBatch
		}

		// wait until the last sample in the batch would have been measured
		due := begin.Add(time.Duration(next+n) * period)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(due)):
		}

		d.mu.Lock()
		offset := d.offset
		d.mu.Unlock()

		samples := make([]progressor.Sample, n)
		for i := range samples {
			elapsed := time.Duration(next+i) * period
			samples[i] = progressor.Sample{
				Time: elapsed.Seconds(),
				Load: d.profile.Load(elapsed) + d.bias + d.noise.Rand() - offset,
			}
		}
		next += n
		d.send(progressor.EncodeWeightBatch(samples))
	}
}
