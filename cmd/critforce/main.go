package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/BTBurke/critforce"
)

func main() {

	_, opts, err := critforce.ParseCommandLine()
	if err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			fmt.Printf("Could not parse configuration: %s\n\nUse critforce --help for options\n", err)
		}
		os.Exit(1)
	}

	cfg, errs := critforce.NewConfig(opts...)
	if len(errs) > 0 {
		fmt.Println("Error in config:")
		for _, e := range errs {
			fmt.Println(e)
		}
		os.Exit(1)
	}
	critforce.SuppressErrorReporting = cfg.NoErrorReports

	test, err := critforce.New(cfg)
	if err != nil {
		fmt.Println("Setup error:", err)
		os.Exit(1)
	}

	// ctrl-c stops the test early, the recording so far is still analysed in test mode
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := test.Exec(ctx); err != nil {
		fmt.Println("Test error:", err)
		stop()
		os.Exit(1)
	}
}
