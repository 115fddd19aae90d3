//go:build !tinygo

package hal

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// HeadlessConfig controls the no-window host runner.
type HeadlessConfig struct {
	Enabled bool
	Hz      int
	Ticks   uint64
	TTY     bool
}

// System runs the OS on h until ctx is done or the OS stops.
type System func(ctx context.Context, h HAL) error

// RunHeadless runs the OS without opening a window.
func RunHeadless(ctx context.Context, run System, cfg HeadlessConfig) error {
	if cfg.Hz <= 0 {
		cfg.Hz = 1000
	}
	d := time.Second / time.Duration(cfg.Hz)
	if d <= 0 {
		return fmt.Errorf("invalid headless hz: %d", cfg.Hz)
	}

	h := newHost(HostConfig{TTY: cfg.TTY})
	defer h.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return h.console.Pump(ctx) })
	g.Go(func() error {
		defer cancel()
		return run(ctx, h)
	})
	g.Go(func() error {
		t := time.NewTicker(d)
		defer t.Stop()

		var tick uint64
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				h.t.advance(1)
				tick++
				if cfg.Ticks > 0 && tick >= cfg.Ticks {
					cancel()
					return nil
				}
			}
		}
	})
	return g.Wait()
}
