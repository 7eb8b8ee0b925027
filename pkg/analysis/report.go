package analysis

import (
	"fmt"
	"strings"

	"github.com/BTBurke/critforce/pkg/metric"
)

// Gravity converts kg*s of work capacity into an approximate energy in joules
const Gravity float64 = 9.8

// Report is the critical load model fit to one test.  Loads are in kg and W' is in kg*s.  Every estimate
// carries its standard error in the matching E field.  A NaN in any field is a result of propagating a
// missing value and is never clamped.
type Report struct {
	PeakLoad        float64
	EPeakLoad       float64
	CriticalLoad    float64
	ECriticalLoad   float64
	AsymptoticLoad  float64
	EAsymptoticLoad float64
	WorkCapacity    float64
	EWorkCapacity   float64
	AnaerobicScore  float64
	EAnaerobicScore float64
	Alpha           float64
	Model           Model

	WorkSeconds float64
	RestSeconds float64

	// per interval series, aligned with Intervals
	MidTimes       []float64
	Loads          []float64
	Remaining      []float64
	PredictedForce []float64
	Intervals      []Interval

	// Partial is set when there were too few intervals to fill the asymptote window
	Partial bool
}

// WorkCapacityJoules is W' expressed in joules
func (r *Report) WorkCapacityJoules() float64 {
	return Gravity * r.WorkCapacity
}

// Summary returns the human readable result of the test, one estimate per line
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "peak load = %.2f +/- %.2f kg\n", r.PeakLoad, r.EPeakLoad)
	fmt.Fprintf(&b, "critical load = %.2f +/- %.2f kg\n", r.CriticalLoad, r.ECriticalLoad)
	fmt.Fprintf(&b, "asymptotic load = %.2f +/- %.2f kg\n", r.AsymptoticLoad, r.EAsymptoticLoad)
	fmt.Fprintf(&b, "W' = %.0f J\n", r.WorkCapacityJoules())
	fmt.Fprintf(&b, "anaerobic function score = %.1f", r.AnaerobicScore)
	if r.Partial {
		fmt.Fprintf(&b, "\n(partial result from %d intervals)", len(r.Intervals))
	}
	return b.String()
}

// Metrics flattens the scalar estimates into named values.  Names carry the metadata passed in, e.g.
// critical_load_kg[device=Progressor_1234 @estimate].
func (r *Report) Metrics(md map[string]string) map[string]float64 {
	values := []struct {
		name string
		v    float64
		ann  string
	}{
		{"peak_load_kg", r.PeakLoad, "estimate"},
		{"peak_load_kg", r.EPeakLoad, "stderr"},
		{"critical_load_kg", r.CriticalLoad, "estimate"},
		{"critical_load_kg", r.ECriticalLoad, "stderr"},
		{"asymptotic_load_kg", r.AsymptoticLoad, "estimate"},
		{"asymptotic_load_kg", r.EAsymptoticLoad, "stderr"},
		{"work_capacity_joules", r.WorkCapacityJoules(), "estimate"},
		{"work_capacity_joules", Gravity * r.EWorkCapacity, "stderr"},
		{"anaerobic_score", r.AnaerobicScore, "estimate"},
		{"anaerobic_score", r.EAnaerobicScore, "stderr"},
	}

	out := make(map[string]float64, len(values))
	for _, val := range values {
		name := metric.NewName(val.name, copyMetadata(md))
		name.AddAnnotation(val.ann)
		out[name.String()] = val.v
	}
	return out
}

func copyMetadata(md map[string]string) map[string]string {
	out := make(map[string]string, len(md)+1)
	for k, v := range md {
		out[k] = v
	}
	return out
}
