package critforce

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BTBurke/critforce/pkg/analysis"
	"github.com/BTBurke/critforce/pkg/influx"
	"github.com/BTBurke/critforce/pkg/logger"
	"github.com/BTBurke/critforce/pkg/progressor"
	"github.com/BTBurke/critforce/pkg/sequencer"
)

// Config is the configuration of one test run
type Config struct {
	ID           string
	NameFilter   string
	ScanTimeout  time.Duration
	ReplyTimeout time.Duration
	TareWindow   time.Duration
	NoTare       bool
	Countdown    time.Duration
	Work         time.Duration
	Rest         time.Duration
	Repetitions  int
	Mode         sequencer.Mode
	TickInterval time.Duration
	TriggerLevel float64
	MinLength    float64
	Model        analysis.Model
	LowPowerKind progressor.FrameKind
	Output       string
	Simulate     bool
	Tracing      bool

	Influx influx.Config
	Log    logger.Config

	// reports
	Host           string
	UseTLS         bool
	NoErrorReports bool
}

// DefaultReplyTimeout bounds the wait for a device reply to a query
const DefaultReplyTimeout = 3 * time.Second

// ConfigOption sets one configuration value.  Options parsed from strings return an error if the value
// cannot be converted.
type ConfigOption func(c *Config) error

// NewConfig applies options over the standard protocol defaults.  Every failing option is reported.
func NewConfig(options ...ConfigOption) (*Config, []error) {
	seq := sequencer.DefaultConfig()
	c := &Config{
		NameFilter:   progressor.DefaultNamePrefix,
		ScanTimeout:  progressor.DefaultScanTimeout,
		ReplyTimeout: DefaultReplyTimeout,
		TareWindow:   progressor.DefaultTareWindow,
		Countdown:    seq.Countdown,
		Work:         seq.Work,
		Rest:         seq.Rest,
		Repetitions:  seq.Repetitions,
		Mode:         seq.Mode,
		TickInterval: 100 * time.Millisecond,
		TriggerLevel: analysis.DefaultTriggerLevel,
		MinLength:    analysis.DefaultMinLength,
		Model:        analysis.ModelDecay,
		LowPowerKind: progressor.KindLowPower,
		UseTLS:       true,
		Log:          logger.Config{Level: "info", Format: "text"},
	}

	var errors []error
	for _, option := range options {
		if err := option(c); err != nil {
			errors = append(errors, err)
		}
	}
	if c.ReplyTimeout <= 0 {
		errors = append(errors, fmt.Errorf("reply timeout must be positive"))
	}
	if c.TickInterval <= 0 {
		errors = append(errors, fmt.Errorf("tick interval must be positive"))
	}
	if err := c.Sequencer().Validate(); err != nil {
		errors = append(errors, err)
	}
	if len(errors) > 0 {
		return nil, errors
	}
	return c, nil
}

// Sequencer is the test protocol
func (c *Config) Sequencer() sequencer.Config {
	return sequencer.Config{
		Countdown:   c.Countdown,
		Work:        c.Work,
		Rest:        c.Rest,
		Repetitions: c.Repetitions,
		Mode:        c.Mode,
	}
}

// Analysis returns the analysis options
func (c *Config) Analysis() []analysis.Option {
	return []analysis.Option{
		analysis.WithTriggerLevel(c.TriggerLevel),
		analysis.WithMinLength(c.MinLength),
		analysis.WithModel(c.Model),
	}
}

// Session returns the device session options.  Sinks, loggers and the event bus are added by the caller.
func (c *Config) Session() []progressor.Option {
	return []progressor.Option{
		progressor.WithNameFilter(progressor.NameContains(c.NameFilter)),
		progressor.WithScanTimeout(c.ScanTimeout),
		progressor.WithTareWindow(c.TareWindow),
		progressor.WithLowPowerKind(c.LowPowerKind),
	}
}

// ID labels the run in stored results, e.g. the athlete's name
func ID(id string) ConfigOption {
	return func(c *Config) error {
		c.ID = id
		return nil
	}
}

// NameFilter connects to the first device whose name contains s, ignoring case
func NameFilter(s string) ConfigOption {
	return func(c *Config) error {
		if s == "" {
			return fmt.Errorf("device name filter must not be empty")
		}
		c.NameFilter = s
		return nil
	}
}

func duration(name string, value string, set func(d time.Duration)) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("unrecognized %s duration: %s", name, value)
	}
	if d < 0 {
		return fmt.Errorf("%s must not be negative: %s", name, value)
	}
	set(d)
	return nil
}

// ScanTimeout bounds the search for a device
func ScanTimeout(timeout string) ConfigOption {
	return func(c *Config) error {
		return duration("scan timeout", timeout, func(d time.Duration) { c.ScanTimeout = d })
	}
}

// ReplyTimeout bounds the wait for the device to answer a query
func ReplyTimeout(timeout string) ConfigOption {
	return func(c *Config) error {
		return duration("reply timeout", timeout, func(d time.Duration) { c.ReplyTimeout = d })
	}
}

// TareWindow is how long the soft tare samples for
func TareWindow(window string) ConfigOption {
	return func(c *Config) error {
		return duration("tare window", window, func(d time.Duration) { c.TareWindow = d })
	}
}

// NoTare skips the soft tare before the test
func NoTare() ConfigOption {
	return func(c *Config) error {
		c.NoTare = true
		return nil
	}
}

// Countdown is the time between starting and the first pull
func Countdown(countdown string) ConfigOption {
	return func(c *Config) error {
		return duration("countdown", countdown, func(d time.Duration) { c.Countdown = d })
	}
}

// Work is the length of each pull
func Work(work string) ConfigOption {
	return func(c *Config) error {
		return duration("work", work, func(d time.Duration) { c.Work = d })
	}
}

// Rest is the length of each rest
func Rest(rest string) ConfigOption {
	return func(c *Config) error {
		return duration("rest", rest, func(d time.Duration) { c.Rest = d })
	}
}

// Repetitions is the number of work/rest cycles
func Repetitions(reps string) ConfigOption {
	return func(c *Config) error {
		n, err := strconv.Atoi(reps)
		if err != nil {
			return fmt.Errorf("could not convert repetitions to integer: %s", reps)
		}
		c.Repetitions = n
		return nil
	}
}

// Mode is test or single
func Mode(mode string) ConfigOption {
	return func(c *Config) error {
		switch strings.ToLower(mode) {
		case "test":
			c.Mode = sequencer.ModeTest
		case "single":
			c.Mode = sequencer.ModeSingle
		default:
			return fmt.Errorf("unknown mode %q, use test or single", mode)
		}
		return nil
	}
}

// TickInterval is how often the test clock is advanced
func TickInterval(interval string) ConfigOption {
	return func(c *Config) error {
		return duration("tick interval", interval, func(d time.Duration) { c.TickInterval = d })
	}
}

// TriggerLevel is the load in kg that marks the start and end of a pull
func TriggerLevel(level string) ConfigOption {
	return func(c *Config) error {
		v, err := strconv.ParseFloat(level, 64)
		if err != nil || v <= 0 {
			return fmt.Errorf("trigger level must be a positive number: %s", level)
		}
		c.TriggerLevel = v
		return nil
	}
}

// MinLength is the fewest samples a pull must span to count
func MinLength(length string) ConfigOption {
	return func(c *Config) error {
		v, err := strconv.ParseFloat(length, 64)
		if err != nil || v < 0 {
			return fmt.Errorf("minimum interval length must be a non-negative number: %s", length)
		}
		c.MinLength = v
		return nil
	}
}

// Model selects the predicted force model, decay or linear
func Model(model string) ConfigOption {
	return func(c *Config) error {
		switch strings.ToLower(model) {
		case analysis.ModelDecay.String():
			c.Model = analysis.ModelDecay
		case analysis.ModelLinear.String():
			c.Model = analysis.ModelLinear
		default:
			return fmt.Errorf("unknown model %q, use decay or linear", model)
		}
		return nil
	}
}

// LowPowerKind is the frame kind of the low battery warning.  Older firmware uses 2.
func LowPowerKind(kind string) ConfigOption {
	return func(c *Config) error {
		v, err := strconv.ParseInt(kind, 0, 8)
		if err != nil {
			return fmt.Errorf("low power kind must be a byte: %s", kind)
		}
		c.LowPowerKind = progressor.FrameKind(v)
		return nil
	}
}

// Output saves the recording as a two column text file
func Output(path string) ConfigOption {
	return func(c *Config) error {
		c.Output = path
		return nil
	}
}

// Simulate uses a simulated device instead of Bluetooth
func Simulate() ConfigOption {
	return func(c *Config) error {
		c.Simulate = true
		return nil
	}
}

// Tracing prints trace spans to stdout
func Tracing() ConfigOption {
	return func(c *Config) error {
		c.Tracing = true
		return nil
	}
}

// InfluxURL is the InfluxDB server
func InfluxURL(url string) ConfigOption {
	return func(c *Config) error {
		c.Influx.URL = url
		return nil
	}
}

// InfluxToken authenticates with InfluxDB
func InfluxToken(token string) ConfigOption {
	return func(c *Config) error {
		c.Influx.Token = token
		return nil
	}
}

// InfluxOrg is the InfluxDB organization
func InfluxOrg(org string) ConfigOption {
	return func(c *Config) error {
		c.Influx.Org = org
		return nil
	}
}

// InfluxBucket is the InfluxDB bucket
func InfluxBucket(bucket string) ConfigOption {
	return func(c *Config) error {
		c.Influx.Bucket = bucket
		return nil
	}
}

// LogLevel is debug, info, warn or error
func LogLevel(level string) ConfigOption {
	return func(c *Config) error {
		c.Log.Level = level
		return nil
	}
}

// LogFormat is text or json
func LogFormat(format string) ConfigOption {
	return func(c *Config) error {
		switch format {
		case "text", "json":
			c.Log.Format = format
			return nil
		default:
			return fmt.Errorf("unknown log format %q, use text or json", format)
		}
	}
}

// LogOutput is stderr, stdout or a file path
func LogOutput(output string) ConfigOption {
	return func(c *Config) error {
		c.Log.Output = output
		return nil
	}
}

// Host is where finished reports are sent, as host:port
func Host(host string) ConfigOption {
	return func(c *Config) error {
		c.Host = host
		return nil
	}
}

// Insecure sends reports without TLS
func Insecure() ConfigOption {
	return func(c *Config) error {
		c.UseTLS = false
		return nil
	}
}

// NoErrorReports stops unexpected errors being sent to the crash reporting service
func NoErrorReports() ConfigOption {
	return func(c *Config) error {
		c.NoErrorReports = true
		return nil
	}
}
