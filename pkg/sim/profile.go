// Package sim is a simulated Progressor.  It speaks the real wire protocol, so a session connected to it
// exercises the same code paths as one connected to hardware.
package sim

import (
	"math"
	"time"
)

// Profile is the force an athlete produces over a critical force test.  Each work phase is a plateau whose
// height decays exponentially from Peak towards Asymptote with the repetition number.  Rest phases and the
// countdown read zero.
type Profile struct {
	Countdown   time.Duration
	Work        time.Duration
	Rest        time.Duration
	Repetitions int
	Peak        float64
	Asymptote   float64
	// Decay is the fraction of the remaining gap above the asymptote lost on each repetition
	Decay float64
	// Ramp is the time taken to reach the plateau at the start of a pull
	Ramp time.Duration
}

// DefaultProfile is a strong climber on the standard 24 x 7:3 protocol
func DefaultProfile() Profile {
	return Profile{
		Countdown:   10 * time.Second,
		Work:        7 * time.Second,
		Rest:        3 * time.Second,
		Repetitions: 24,
		Peak:        50,
		Asymptote:   30,
		Decay:       0.15,
		Ramp:        300 * time.Millisecond,
	}
}

// Plateau is the load held during repetition rep, counting from zero
func (p Profile) Plateau(rep int) float64 {
	return p.Asymptote + (p.Peak-p.Asymptote)*math.Pow(1-p.Decay, float64(rep))
}

// Load is the noiseless load at elapsed time since streaming started
func (p Profile) Load(elapsed time.Duration) float64 {
	t := elapsed - p.Countdown
	if t < 0 {
		return 0
	}
	cycle := p.Work + p.Rest
	rep := int(t / cycle)
	if rep >= p.Repetitions {
		return 0
	}
	in := t - time.Duration(rep)*cycle
	if in >= p.Work {
		return 0
	}
	plateau := p.Plateau(rep)
	if p.Ramp > 0 && in < p.Ramp {
		return plateau * float64(in) / float64(p.Ramp)
	}
	return plateau
}

// Record samples the profile at hz from the start of the first work phase to the end of the last rest,
// returning times in seconds from the start of the recording.  It is the recording a perfect sensor would
// produce.
func (p Profile) Record(hz float64) (times, loads []float64) {
	total := time.Duration(p.Repetitions) * (p.Work + p.Rest)
	step := time.Duration(float64(time.Second) / hz)
	for t := time.Duration(0); t < total; t += step {
		times = append(times, t.Seconds())
		loads = append(loads, p.Load(p.Countdown+t))
	}
	return times, loads
}
