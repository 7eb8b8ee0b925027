package sequencer

import (
	"fmt"
	"math"
	"time"

	"github.com/BTBurke/critforce/pkg/fsm"
)

// Snapshot is what a display needs to show the test in progress
type Snapshot struct {
	State       fsm.State
	Remaining   time.Duration
	Repetition  int
	Repetitions int
	// Progress through the whole protocol, from 0 to 1
	Progress float64
}

// String renders the snapshot as a one line status
func (s Snapshot) String() string {
	switch s.State {
	case Idle:
		return "ready, start when loaded"
	case Countdown:
		return fmt.Sprintf("starting in %.0fs", math.Ceil(s.Remaining.Seconds()))
	case Work, Rest:
		return fmt.Sprintf("Rep %d/%d %s %s", s.Repetition, s.Repetitions, s.State, clock(s.Remaining))
	case Stopped:
		return "stopped, complete to analyse"
	case Final:
		return "finished"
	default:
		return string(s.State)
	}
}

// clock formats d as mm:ss, rounding partial seconds up
func clock(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
