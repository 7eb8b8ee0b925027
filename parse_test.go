package critforce

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-yaml/yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTBurke/critforce/pkg/analysis"
	"github.com/BTBurke/critforce/pkg/sequencer"
)

func TestParseFlags(t *testing.T) {
	tt := []struct {
		Name     string
		Cmdline  string
		Expected []ConfigOption
		Error    bool
	}{
		{Name: "id", Cmdline: "--id alex", Expected: []ConfigOption{ID("alex")}},
		{Name: "name", Cmdline: "--name Progressor_12", Expected: []ConfigOption{NameFilter("Progressor_12")}},
		{Name: "scan-timeout", Cmdline: "--scan-timeout 1m", Expected: []ConfigOption{ScanTimeout("1m")}},
		{Name: "reply-timeout", Cmdline: "--reply-timeout 500ms", Expected: []ConfigOption{ReplyTimeout("500ms")}},
		{Name: "tare-window", Cmdline: "--tare-window 2s", Expected: []ConfigOption{TareWindow("2s")}},
		{Name: "no-tare", Cmdline: "--no-tare", Expected: []ConfigOption{NoTare()}},
		{Name: "protocol", Cmdline: "--countdown 5s --work 10s --rest 5s --reps 12", Expected: []ConfigOption{Countdown("5s"), Work("10s"), Rest("5s"), Repetitions("12")}},
		{Name: "mode", Cmdline: "--mode single", Expected: []ConfigOption{Mode("single")}},
		{Name: "tick", Cmdline: "--tick 50ms", Expected: []ConfigOption{TickInterval("50ms")}},
		{Name: "analysis", Cmdline: "--trigger 5 --min-length 3 --model linear", Expected: []ConfigOption{TriggerLevel("5"), MinLength("3"), Model("linear")}},
		{Name: "low-power-kind", Cmdline: "--low-power-kind 2", Expected: []ConfigOption{LowPowerKind("2")}},
		{Name: "output", Cmdline: "-o run.txt", Expected: []ConfigOption{Output("run.txt")}},
		{Name: "simulate", Cmdline: "--simulate", Expected: []ConfigOption{Simulate()}},
		{Name: "simulate false", Cmdline: "--simulate=false", Expected: []ConfigOption{}},
		{Name: "trace", Cmdline: "--trace", Expected: []ConfigOption{Tracing()}},
		{Name: "influx", Cmdline: "--influx-url http://localhost:8086 --influx-token tok --influx-org org --influx-bucket b", Expected: []ConfigOption{InfluxURL("http://localhost:8086"), InfluxToken("tok"), InfluxOrg("org"), InfluxBucket("b")}},
		{Name: "logging", Cmdline: "--log-level debug --log-format json --log-output stdout", Expected: []ConfigOption{LogLevel("debug"), LogFormat("json"), LogOutput("stdout")}},
		{Name: "host", Cmdline: "--host localhost:8080", Expected: []ConfigOption{Host("localhost:8080")}},
		{Name: "insecure", Cmdline: "--insecure", Expected: []ConfigOption{Insecure()}},
		{Name: "no-error-reports", Cmdline: "--no-error-reports", Expected: []ConfigOption{NoErrorReports()}},
		{Name: "error on unknown flag", Cmdline: "--does-not-exist", Error: true},
	}

	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			pf := createFlagSet()
			_, options, err := parse(strings.Split(tc.Cmdline, " "), pf)
			if tc.Error {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			expected, received := createComparisonConfigs(tc.Expected, options)
			assert.Equal(t, expected, received)
		})
	}
}

func TestParseYAML(t *testing.T) {
	tt := []struct {
		Name     string
		Yaml     map[string]interface{}
		Expected []ConfigOption
		Error    bool
	}{
		{Name: "id", Yaml: map[string]interface{}{"id": "alex"}, Expected: []ConfigOption{ID("alex")}},
		{Name: "durations", Yaml: map[string]interface{}{"work": "10s", "rest": "5s"}, Expected: []ConfigOption{Work("10s"), Rest("5s")}},
		{Name: "reps", Yaml: map[string]interface{}{"reps": 12}, Expected: []ConfigOption{Repetitions("12")}},
		{Name: "trigger", Yaml: map[string]interface{}{"trigger": 4.5}, Expected: []ConfigOption{TriggerLevel("4.5")}},
		{Name: "simulate", Yaml: map[string]interface{}{"simulate": true}, Expected: []ConfigOption{Simulate()}},
		{Name: "switch off", Yaml: map[string]interface{}{"insecure": false}, Expected: []ConfigOption{}},
		{Name: "influx", Yaml: map[string]interface{}{"influx-url": "http://localhost:8086", "influx-bucket": "b"}, Expected: []ConfigOption{InfluxURL("http://localhost:8086"), InfluxBucket("b")}},
		{Name: "error on unknown key", Yaml: map[string]interface{}{"does-not-exist": "test"}, Error: true},
		{Name: "error on list", Yaml: map[string]interface{}{"id": []string{"a", "b"}}, Error: true},
	}

	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			y, err := yaml.Marshal(tc.Yaml)
			require.NoError(t, err)
			path := filepath.Join(t.TempDir(), "critforce.yml")
			require.NoError(t, os.WriteFile(path, y, 0o600))

			pf := createFlagSet()
			_, options, err := parse([]string{"-c", path}, pf)
			if tc.Error {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			expected, received := createComparisonConfigs(tc.Expected, options)
			assert.Equal(t, expected, received)
		})
	}
}

func TestNewConfig(t *testing.T) {
	c, errs := NewConfig()
	require.Empty(t, errs)
	assert.Equal(t, sequencer.DefaultConfig(), c.Sequencer())
	assert.Equal(t, "Progressor", c.NameFilter)
	assert.True(t, c.UseTLS)
	assert.Equal(t, DefaultReplyTimeout, c.ReplyTimeout)
	assert.Len(t, c.Analysis(), 3)
	assert.Len(t, c.Session(), 4)

	c, errs = NewConfig(Work("10s"), Repetitions("12"), Mode("single"), Model("linear"))
	require.Empty(t, errs)
	assert.Equal(t, 10*time.Second, c.Work)
	assert.Equal(t, 12, c.Repetitions)
	assert.Equal(t, sequencer.ModeSingle, c.Mode)
	assert.Equal(t, analysis.ModelLinear, c.Model)

	// every bad option is reported
	_, errs = NewConfig(Work("soon"), Repetitions("many"), Mode("race"), Model("cubic"), LogFormat("xml"), TriggerLevel("-1"))
	assert.Len(t, errs, 6)

	_, errs = NewConfig(ReplyTimeout("0s"))
	assert.Len(t, errs, 1)

	// the protocol must be runnable
	_, errs = NewConfig(Repetitions("0"))
	assert.Len(t, errs, 1)
}

func createComparisonConfigs(expected []ConfigOption, received []ConfigOption) (Config, Config) {
	expectedConfig := Config{}
	for _, eo := range expected {
		_ = eo(&expectedConfig)
	}
	receivedConfig := Config{}
	for _, to := range received {
		_ = to(&receivedConfig)
	}
	return expectedConfig, receivedConfig
}
