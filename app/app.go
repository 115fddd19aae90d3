// Package app wires the HAL, the kernel, the demo tasks and the shell into
// one bootable system.
package app

import (
	"context"
	"errors"
	"fmt"

	"mpurtos/hal"
	"mpurtos/kernel"
	"mpurtos/services/shell"
	"mpurtos/tasks"
)

// ShellStack is the shell task's stack size.
const ShellStack = 4096

type Config struct {
	Kernel kernel.Config
	// Tasks defaults to the full demo set.
	Tasks []tasks.Spec
	// NoShell leaves the operator shell out.
	NoShell bool
}

// DefaultConfig boots the demo set and the shell.
func DefaultConfig() Config {
	return Config{Kernel: tasks.Config()}
}

// Boot creates a machine on h with the configured tasks registered.
func Boot(h hal.HAL, cfg Config) (*kernel.Machine, error) {
	m, err := kernel.NewMachine(h, cfg.Kernel)
	if err != nil {
		return nil, err
	}
	specs := cfg.Tasks
	if specs == nil {
		specs = tasks.All()
	}
	if err := tasks.Register(m, specs); err != nil {
		return nil, fmt.Errorf("app: register tasks: %w", err)
	}
	if !cfg.NoShell {
		if _, err := m.Register(shell.New().Task(), "shell", 6, ShellStack); err != nil {
			return nil, fmt.Errorf("app: register shell: %w", err)
		}
	}
	return m, nil
}

// Run boots the system and runs it until ctx is done or it halts. A reboot
// starts again from a cleared memory and protection unit.
func Run(ctx context.Context, h hal.HAL, cfg Config) error {
	installFatalHandler(h)
	for {
		reset(h)
		m, err := Boot(h, cfg)
		if err != nil {
			return err
		}
		err = m.Run(ctx)
		if !errors.Is(err, kernel.ErrReboot) {
			return err
		}
		if l := h.Logger(); l != nil {
			l.WriteLineString("app: rebooting")
		}
	}
}

// System adapts Run to the host runners.
func System(cfg Config) hal.System {
	return func(ctx context.Context, h hal.HAL) error {
		return Run(ctx, h, cfg)
	}
}

type resetter interface {
	Reset()
}

func reset(h hal.HAL) {
	if r, ok := h.Bus().(resetter); ok {
		r.Reset()
	}
	if r, ok := h.MPU().(resetter); ok {
		r.Reset()
	}
}
