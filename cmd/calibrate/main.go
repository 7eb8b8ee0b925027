package main

import (
	"bytes"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/BTBurke/critforce/pkg/analysis"
	"github.com/BTBurke/critforce/pkg/rng"
	"github.com/BTBurke/critforce/pkg/sim"
)

const (
	Loops int     = 200
	Rate  float64 = 80
)

var wg sync.WaitGroup

// results maps sensor noise to the RMS error of the critical load estimate
type results struct {
	name string
	mu   sync.Mutex
	val  map[float64]float64
}

func (r *results) record(noise float64, rms float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.val[noise] = rms
}

func newResults(name string) *results {
	return &results{
		name: name,
		val:  make(map[float64]float64),
	}
}

func main() {
	res := newResults("critical-load-rms")
	start := time.Now()
	for noise := 0.0; noise <= 2.0; noise += 0.25 {
		wg.Add(1)
		log.Printf("start noise=%.2f kg\n", noise)
		go estimateError(res, noise)
	}
	wg.Wait()
	fmt.Printf("Time Elapsed: %v\n", time.Since(start))

	noises := make([]float64, 0, len(res.val))
	for noise := range res.val {
		noises = append(noises, noise)
	}
	sort.Float64s(noises)
	var b bytes.Buffer
	for _, noise := range noises {
		b.WriteString(fmt.Sprintf("%f %f\n", noise, res.val[noise]))
	}
	if err := os.WriteFile(fmt.Sprintf("%s.txt", res.name), b.Bytes(), 0644); err != nil {
		log.Fatalf("could not write results: %v", err)
	}
}

// estimateError analyses noisy recordings of the default profile and compares the critical load with the
// noiseless estimate
func estimateError(results *results, noise float64) {
	defer wg.Done()
	p := sim.DefaultProfile()
	times, clean := p.Record(Rate)
	exact, err := analysis.Analyse(times, clean, p.Work.Seconds(), p.Rest.Seconds())
	if err != nil {
		log.Fatalf("unexpected error analysing the noiseless profile: %v", err)
	}

	sumSq := 0.0
	failed := 0
	for i := 0; i < Loops; i++ {
		r := rng.NewNormalRNG(0, noise, rng.Seed())
		loads := make([]float64, len(clean))
		for j, v := range clean {
			loads[j] = v + r.Rand()
		}
		report, err := analysis.Analyse(times, loads, p.Work.Seconds(), p.Rest.Seconds())
		if err != nil {
			failed++
			continue
		}
		d := report.CriticalLoad - exact.CriticalLoad
		sumSq += d * d
	}
	rms := math.NaN()
	if n := Loops - failed; n > 0 {
		rms = math.Sqrt(sumSq / float64(n))
	}
	fmt.Printf("Result: noise=%1.2f rms=%1.4f failed=%d\n", noise, rms, failed)
	results.record(noise, rms)
}
