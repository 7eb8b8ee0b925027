package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/BTBurke/critforce"
	"github.com/BTBurke/critforce/pkg/analysis"
)

func main() {
	pf := pflag.NewFlagSet("cfanalyse", pflag.ContinueOnError)
	pf.Usage = func() {
		fmt.Printf("Usage of cfanalyse:\ncfanalyse <options> recording.txt\n")
		fmt.Printf("\nFits the critical load model to a saved two column recording.\n")
		fmt.Printf("\n%s", pf.FlagUsagesWrapped(10))
	}
	work := pf.Float64("work", 7, "Seconds of each pull")
	rest := pf.Float64("rest", 3, "Seconds of each rest")
	trigger := pf.Float64("trigger", analysis.DefaultTriggerLevel, "Load in kg that marks the start and end of a pull")
	minLength := pf.Float64("min-length", analysis.DefaultMinLength, "Fewest samples a pull must span to count")
	model := pf.String("model", "decay", "Predicted force model, decay or linear")
	intervals := pf.Bool("intervals", false, "Also print every interval")

	if err := pf.Parse(os.Args[1:]); err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			fmt.Println(err)
		}
		os.Exit(1)
	}
	if pf.NArg() != 1 {
		pf.Usage()
		os.Exit(1)
	}

	cfg, errs := critforce.NewConfig(critforce.Model(*model))
	if len(errs) > 0 {
		fmt.Println("Error in config:", errs[0])
		os.Exit(1)
	}

	times, loads, err := critforce.LoadRecording(pf.Arg(0))
	if err != nil {
		fmt.Println("Could not read recording:", err)
		os.Exit(1)
	}

	report, err := analysis.Analyse(times, loads, *work, *rest,
		analysis.WithTriggerLevel(*trigger),
		analysis.WithMinLength(*minLength),
		analysis.WithModel(cfg.Model),
	)
	if err != nil {
		fmt.Println("Analysis error:", err)
		os.Exit(1)
	}

	if *intervals {
		fmt.Println("start\tseconds\tmedian\tmean\tpeak")
		for _, iv := range report.Intervals {
			fmt.Printf("%.2f\t%.2f\t%.2f\t%.2f\t%.2f\n", iv.StartTime, iv.Duration, iv.MedianLoad, iv.MeanLoad, iv.PeakLoad)
		}
		fmt.Println()
	}
	fmt.Println(report.Summary())
}
