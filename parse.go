package critforce

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-yaml/yaml"
	"github.com/spf13/pflag"
)

type options struct {
	options []ConfigOption
	err     error
}

// ParseCommandLine configures a test from command line options or from a YAML configuration file passed
// with the -c flag.  Returns the remaining arguments and a slice of functional options that can be applied
// to the configuration.
func ParseCommandLine() ([]string, []ConfigOption, error) {
	pf := createFlagSet()
	return parse(os.Args[1:], pf)
}

func parse(args []string, pf *pflag.FlagSet) ([]string, []ConfigOption, error) {
	options := options{}
	if err := pf.ParseAll(args, parseFlag(&options)); err != nil {
		return pf.Args(), options.options, err
	}
	return pf.Args(), options.options, options.err
}

func createFlagSet() *pflag.FlagSet {
	pf := pflag.NewFlagSet("critforce", pflag.ContinueOnError)
	pf.Usage = func() {
		fmt.Printf("Usage of critforce:\ncritforce <options>\n")
		fmt.Printf("\nConnects to a Progressor, zeroes it and runs a critical force test, %s on / %s off.\n", 7*time.Second, 3*time.Second)
		fmt.Printf("\n%s", pf.FlagUsagesWrapped(10))
	}

	pf.StringP("config", "c", "", "Use yaml configuration file")
	pf.StringP("id", "i", "", "Label for this test, e.g. the athlete's name")
	pf.String("name", "Progressor", "Connect to the first device whose name contains this text")
	pf.Duration("scan-timeout", 30*time.Second, "Give up if no device is found within this time")
	pf.Duration("reply-timeout", 3*time.Second, "Give up waiting for the device to answer a query after this time")
	pf.Duration("tare-window", time.Second, "Length of the soft tare before the test")
	pf.Bool("no-tare", false, "Do not zero the sensor before the test")
	pf.Duration("countdown", 10*time.Second, "Time from start to the first pull")
	pf.Duration("work", 7*time.Second, "Length of each pull")
	pf.Duration("rest", 3*time.Second, "Length of each rest")
	pf.Int("reps", 24, "Number of pulls")
	pf.String("mode", "test", "test keeps an aborted test for analysis, single discards it")
	pf.Duration("tick", 100*time.Millisecond, "How often the test clock advances")
	pf.Float64("trigger", 3, "Load in kg that marks the start and end of a pull")
	pf.Float64("min-length", 3.5, "Fewest samples a pull must span to count")
	pf.String("model", "decay", "Predicted force model, decay or linear")
	pf.Int("low-power-kind", 4, "Frame kind of the low battery warning (2 on older firmware)")
	pf.StringP("output", "o", "", "Save the recording as a two column text file")
	pf.Bool("simulate", false, "Use a simulated device instead of Bluetooth")
	pf.Bool("trace", false, "Print trace spans to stdout")
	pf.String("influx-url", "", "InfluxDB server to store samples and results")
	pf.String("influx-token", "", "InfluxDB token")
	pf.String("influx-org", "", "InfluxDB organization")
	pf.String("influx-bucket", "", "InfluxDB bucket")
	pf.String("log-level", "info", "debug, info, warn or error")
	pf.String("log-format", "text", "text or json")
	pf.String("log-output", "", "stderr, stdout or a file path")
	pf.String("host", "", "Host to which to send the reports as host:port")
	pf.Bool("insecure", false, "Do not use TLS to secure connection for reports")
	pf.Bool("no-error-reports", false, "Do not send reports when there are unexpected errors in the client")

	return pf
}

func parseFlag(o *options) func(*pflag.Flag, string) error {
	return func(flag *pflag.Flag, value string) error {
		if flag.Value.Type() == "bool" && value == "false" {
			return nil
		}
		switch flag.Name {
		case "config":
			opts, err := parseFromFile(value)
			if err != nil {
				o.err = err
				return err
			}
			o.options = append(o.options, opts...)
		default:
			option, err := handleOption(flag.Name, value)
			if err != nil {
				o.err = err
				return err
			}
			o.options = append(o.options, option)
		}
		return nil
	}
}

func handleOption(name string, value string) (ConfigOption, error) {
	switch name {
	case "id":
		return ID(value), nil
	case "name":
		return NameFilter(value), nil
	case "scan-timeout":
		return ScanTimeout(value), nil
	case "reply-timeout":
		return ReplyTimeout(value), nil
	case "tare-window":
		return TareWindow(value), nil
	case "no-tare":
		return NoTare(), nil
	case "countdown":
		return Countdown(value), nil
	case "work":
		return Work(value), nil
	case "rest":
		return Rest(value), nil
	case "reps":
		return Repetitions(value), nil
	case "mode":
		return Mode(value), nil
	case "tick":
		return TickInterval(value), nil
	case "trigger":
		return TriggerLevel(value), nil
	case "min-length":
		return MinLength(value), nil
	case "model":
		return Model(value), nil
	case "low-power-kind":
		return LowPowerKind(value), nil
	case "output":
		return Output(value), nil
	case "simulate":
		return Simulate(), nil
	case "trace":
		return Tracing(), nil
	case "influx-url":
		return InfluxURL(value), nil
	case "influx-token":
		return InfluxToken(value), nil
	case "influx-org":
		return InfluxOrg(value), nil
	case "influx-bucket":
		return InfluxBucket(value), nil
	case "log-level":
		return LogLevel(value), nil
	case "log-format":
		return LogFormat(value), nil
	case "log-output":
		return LogOutput(value), nil
	case "host":
		return Host(value), nil
	case "insecure":
		return Insecure(), nil
	case "no-error-reports":
		return NoErrorReports(), nil
	default:
		return nil, fmt.Errorf("unknown option: %s", name)
	}
}

func parseFromFile(fpath string) ([]ConfigOption, error) {
	var options []ConfigOption
	data, err := os.ReadFile(fpath)
	if err != nil {
		return options, err
	}

	cfg := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return options, err
	}
	for k, v := range cfg {
		var value string
		switch val := v.(type) {
		case string:
			value = val
		case int:
			value = strconv.Itoa(val)
		case float64:
			value = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			// boolean options are switches, false leaves the default
			if !val {
				continue
			}
		default:
			return options, fmt.Errorf("could not process config key %s, unknown type", k)
		}
		opt, err := handleOption(k, value)
		if err != nil {
			return options, err
		}
		options = append(options, opt)
	}
	return options, nil
}
