// Package kernel is a preemptive priority kernel for a single simulated core.
//
// All kernel state lives in one Kernel value and is only touched from
// handler context: a trap, a tick, a pended switch or a fault. The Processor
// performs the register-level half of each switch.
package kernel

import (
	"errors"
	"fmt"
	"io"

	"mpurtos/hal"
	"mpurtos/kernel/mm"
)

const (
	MaxTasks      = 12
	NumPriorities = 8
	// MaxNameLen bounds task names, excluding the terminator.
	MaxNameLen = 15
)

var (
	ErrTaskTableFull     = errors.New("kernel: task table full")
	ErrAlreadyRegistered = errors.New("kernel: task already registered")
	ErrInvalidPriority   = errors.New("kernel: invalid priority")
	ErrInvalidName       = errors.New("kernel: invalid task name")
	ErrQueueFull         = errors.New("kernel: wait queue full")
	ErrHalted            = errors.New("kernel: system halted")
	ErrReboot            = errors.New("kernel: reboot requested")
)

// Policy selects how the scheduler picks the next task.
type Policy uint8

const (
	PolicyPriority Policy = iota
	PolicyRoundRobin
)

func (p Policy) String() string {
	switch p {
	case PolicyPriority:
		return "prio"
	case PolicyRoundRobin:
		return "rr"
	default:
		return "unknown"
	}
}

// ParsePolicy accepts the names String returns.
func ParsePolicy(s string) (Policy, bool) {
	switch s {
	case "prio":
		return PolicyPriority, true
	case "rr":
		return PolicyRoundRobin, true
	}
	return PolicyPriority, false
}

// Config is fixed at kernel creation.
type Config struct {
	Layout mm.Layout

	Mutexes int
	// Semaphores holds the initial count of each semaphore.
	Semaphores []uint32
	// QueueCapacity bounds every mutex and semaphore wait queue.
	QueueCapacity int

	Policy  Policy
	Preempt bool
	Inherit bool

	// CPUWindow is the CPU-time accounting window in ticks.
	CPUWindow uint32
}

// DefaultConfig matches the demo board.
func DefaultConfig() Config {
	return Config{
		Layout:        mm.DefaultLayout(),
		Mutexes:       1,
		Semaphores:    []uint32{1, 0, 5},
		QueueCapacity: 2,
		Policy:        PolicyPriority,
		Preempt:       true,
		Inherit:       false,
		CPUWindow:     1000,
	}
}

// Kernel owns the task table, the memory pool and the sync primitives.
type Kernel struct {
	cfg Config
	cpu Processor
	mem *mm.Manager

	log    hal.Logger
	out    io.Writer
	input  *hal.UART
	mpu    hal.MPU
	bus    hal.Bus
	cycles hal.CycleCounter

	tasks   [MaxTasks]tcb
	current int

	mutexes    []mutex
	semaphores []semaphore

	policy  Policy
	preempt bool
	inherit bool

	rrLast  int
	lastRun [NumPriorities]int

	tick     uint64
	sleeping int
	pendSV   bool
	switches uint64

	acct cpuAccount

	reboot bool
	halted bool
}

// New creates a kernel on h. cpu carries out context saves and restores.
func New(h hal.HAL, cpu Processor, cfg Config) (*Kernel, error) {
	if cpu == nil {
		return nil, errors.New("kernel: nil processor")
	}
	if cfg.QueueCapacity <= 0 || cfg.QueueCapacity > MaxTasks {
		return nil, fmt.Errorf("kernel: queue capacity %d out of range", cfg.QueueCapacity)
	}
	if cfg.CPUWindow == 0 {
		cfg.CPUWindow = 1000
	}
	mem, err := mm.New(cfg.Layout)
	if err != nil {
		return nil, err
	}

	k := &Kernel{
		cfg:     cfg,
		cpu:     cpu,
		mem:     mem,
		log:     h.Logger(),
		mpu:     h.MPU(),
		bus:     h.Bus(),
		cycles:  h.Cycles(),
		current: -1,
		policy:  cfg.Policy,
		preempt: cfg.Preempt,
		inherit: cfg.Inherit,
		rrLast:  MaxTasks - 1,
	}
	if u := h.Console(); u != nil {
		k.out = u
		k.input = u
	} else {
		k.out = io.Discard
	}
	for i := range k.lastRun {
		k.lastRun[i] = MaxTasks - 1
	}
	for i := range k.tasks {
		k.tasks[i].reset()
	}

	k.mutexes = make([]mutex, cfg.Mutexes)
	for i := range k.mutexes {
		k.mutexes[i] = mutex{owner: -1, queue: newWaitQueue(cfg.QueueCapacity)}
	}
	k.semaphores = make([]semaphore, len(cfg.Semaphores))
	for i, n := range cfg.Semaphores {
		k.semaphores[i] = semaphore{count: n, queue: newWaitQueue(cfg.QueueCapacity)}
	}
	return k, nil
}

// Memory returns the pool manager.
func (k *Kernel) Memory() *mm.Manager { return k.mem }

// Current returns the slot of the running task, or -1 before boot.
func (k *Kernel) Current() int { return k.current }

// Ticks returns the number of timer ticks handled.
func (k *Kernel) Ticks() uint64 { return k.tick }

// Switches returns the number of completed context switches.
func (k *Kernel) Switches() uint64 { return k.switches }

// SwitchPending reports whether a reschedule is waiting for the running task.
func (k *Kernel) SwitchPending() bool { return k.pendSV }

func (k *Kernel) Policy() Policy { return k.policy }

// Enter records the running task's stack pointer on exception entry.
func (k *Kernel) Enter(sp uint32) {
	if k.current >= 0 && sp != 0 {
		k.tasks[k.current].sp = sp
	}
}

// Boot programs the protection unit and dispatches the first task.
func (k *Kernel) Boot() error {
	if err := k.configureMPU(); err != nil {
		return err
	}
	k.acct.init(k.cycles, k.cfg.CPUWindow)
	return k.contextSwitch(CauseStart)
}

// Tick is the periodic timer interrupt.
func (k *Kernel) Tick() {
	k.tick++
	if k.sleeping > 0 {
		for i := range k.tasks {
			t := &k.tasks[i]
			if t.state != StateDelayed {
				continue
			}
			t.ticks--
			if t.ticks == 0 {
				t.state = StateReady
				k.sleeping--
			}
		}
	}
	k.acct.tick(k.current, &k.tasks)
	if k.preempt {
		k.pendSV = true
	}
}

// PendSV performs a switch the running task was asked to take.
func (k *Kernel) PendSV() error {
	if k.halted {
		return ErrHalted
	}
	return k.contextSwitch(CauseTick)
}

func (k *Kernel) logf(format string, args ...any) {
	if k.log == nil {
		return
	}
	k.log.WriteLineString(fmt.Sprintf(format, args...))
}

func (k *Kernel) printf(format string, args ...any) {
	fmt.Fprintf(k.out, format, args...)
}
