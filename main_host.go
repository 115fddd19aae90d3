//go:build !tinygo

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"mpurtos/app"
	"mpurtos/hal"
	"mpurtos/kernel"
)

func main() {
	var cfg hal.HeadlessConfig
	var sched string
	flag.BoolVar(&cfg.Enabled, "headless", false, "Run without a window.")
	flag.IntVar(&cfg.Hz, "hz", 1000, "Tick rate in ticks per second.")
	flag.Uint64Var(&cfg.Ticks, "ticks", 0, "Stop after N ticks in headless mode (0 = run forever).")
	flag.BoolVar(&cfg.TTY, "tty", false, "Put the terminal in raw mode for the console.")
	flag.StringVar(&sched, "sched", "prio", "Initial scheduling policy (prio|rr).")
	preempt := flag.Bool("preempt", true, "Start with preemption enabled.")
	pi := flag.Bool("pi", false, "Start with priority inheritance enabled.")
	flag.Parse()

	sys := app.DefaultConfig()
	policy, ok := kernel.ParsePolicy(sched)
	if !ok {
		fmt.Fprintf(os.Stderr, "invalid -sched %q\n", sched)
		os.Exit(2)
	}
	sys.Kernel.Policy = policy
	sys.Kernel.Preempt = *preempt
	sys.Kernel.Inherit = *pi

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	run := hal.RunWindow
	if cfg.Enabled {
		run = hal.RunHeadless
	}
	if err := run(ctx, app.System(sys), cfg); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
