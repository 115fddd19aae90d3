package kernel

import (
	"fmt"
	"reflect"

	"mpurtos/kernel/mm"
)

// State is a task's position in the task state machine.
type State uint8

const (
	StateInvalid State = iota
	StateUnrun
	StateReady
	StateDelayed
	StateBlockedMutex
	StateBlockedSemaphore
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateInvalid:
		return "INVALID"
	case StateUnrun:
		return "UNRUN"
	case StateReady:
		return "READY"
	case StateDelayed:
		return "DELAYED"
	case StateBlockedMutex:
		return "BLOCKED_MUTEX"
	case StateBlockedSemaphore:
		return "BLOCKED_SEMAPHORE"
	case StateKilled:
		return "KILLED"
	default:
		return "unknown"
	}
}

// PID is a generational task handle: the slot in the low byte and the
// creation generation above it. It is never zero for a live slot.
type PID uint32

const NoPID PID = 0

const maxGeneration = 1<<24 - 1

func makePID(slot int, gen uint32) PID { return PID(gen<<8 | uint32(slot)) }

func (p PID) Slot() int          { return int(p & 0xFF) }
func (p PID) Generation() uint32 { return uint32(p) >> 8 }

func (p PID) owner() mm.Owner { return mm.Owner(p) }

// TaskFunc is a task body. It runs unprivileged and reaches the kernel
// only through c.
type TaskFunc func(c *Context)

type tcb struct {
	pid   PID
	gen   uint32
	name  string
	entry TaskFunc
	// addr identifies the entry function for duplicate registration.
	addr uintptr

	state State
	sp    uint32

	stackBase  uint32
	stackBytes uint32

	basePriority    uint8
	currentPriority uint8

	ticks     uint32
	mutex     int
	semaphore int

	mask   mm.Mask
	cpu    [2]uint64
	result Result
}

func (t *tcb) reset() {
	*t = tcb{mutex: -1, semaphore: -1}
}

// TaskInfo is a snapshot of one task control record.
type TaskInfo struct {
	PID             PID
	Name            string
	State           State
	BasePriority    uint8
	CurrentPriority uint8
	SleepTicks      uint32
	Mutex           int
	Semaphore       int
	SP              uint32
	StackBase       uint32
	Mask            mm.Mask
}

// Register creates a task in the first free slot with a fresh stack of
// stackBytes. Entry functions are unique: registering one twice fails.
func (k *Kernel) Register(fn TaskFunc, name string, priority uint8, stackBytes uint32) (PID, error) {
	if fn == nil {
		return NoPID, fmt.Errorf("kernel: register %q: nil entry", name)
	}
	if name == "" || len(name) > MaxNameLen {
		return NoPID, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if priority >= NumPriorities {
		return NoPID, fmt.Errorf("%w: %d", ErrInvalidPriority, priority)
	}
	addr := reflect.ValueOf(fn).Pointer()

	free := -1
	for i := range k.tasks {
		t := &k.tasks[i]
		if t.state == StateInvalid {
			if free < 0 {
				free = i
			}
			continue
		}
		if t.addr == addr {
			return NoPID, fmt.Errorf("%w: %s", ErrAlreadyRegistered, t.name)
		}
	}
	if free < 0 {
		return NoPID, ErrTaskTableFull
	}

	t := &k.tasks[free]
	t.reset()
	t.gen = 1
	t.pid = makePID(free, t.gen)
	t.name = name
	t.entry = fn
	t.addr = addr
	t.basePriority = priority
	t.currentPriority = priority
	t.stackBytes = stackBytes
	if err := k.allocateStack(t); err != nil {
		t.reset()
		return NoPID, fmt.Errorf("kernel: register %s: %w", name, err)
	}
	t.state = StateUnrun
	return t.pid, nil
}

func (k *Kernel) allocateStack(t *tcb) error {
	t.mask = mm.NoAccess
	base, err := k.mem.Allocate(t.stackBytes, t.pid.owner(), &t.mask)
	if err != nil {
		return err
	}
	t.stackBase = base
	t.sp = base + uint32(k.mem.RunBlocks(t.stackBytes))*k.cfg.Layout.BlockSize
	return nil
}

// lookup resolves a PID to its slot. Stale generations do not resolve.
func (k *Kernel) lookup(pid PID) (int, bool) {
	slot := pid.Slot()
	if pid == NoPID || slot >= MaxTasks {
		return -1, false
	}
	t := &k.tasks[slot]
	if t.state == StateInvalid || t.pid != pid {
		return -1, false
	}
	return slot, true
}

func (k *Kernel) findByName(name string) (int, bool) {
	for i := range k.tasks {
		if k.tasks[i].state != StateInvalid && k.tasks[i].name == name {
			return i, true
		}
	}
	return -1, false
}

// Task returns a snapshot of the task with the given PID.
func (k *Kernel) Task(pid PID) (TaskInfo, bool) {
	slot, ok := k.lookup(pid)
	if !ok {
		return TaskInfo{}, false
	}
	return k.info(slot), true
}

// Tasks returns snapshots of every non-free slot in slot order.
func (k *Kernel) Tasks() []TaskInfo {
	var out []TaskInfo
	for i := range k.tasks {
		if k.tasks[i].state != StateInvalid {
			out = append(out, k.info(i))
		}
	}
	return out
}

func (k *Kernel) info(slot int) TaskInfo {
	t := &k.tasks[slot]
	return TaskInfo{
		PID:             t.pid,
		Name:            t.name,
		State:           t.state,
		BasePriority:    t.basePriority,
		CurrentPriority: t.currentPriority,
		SleepTicks:      t.ticks,
		Mutex:           t.mutex,
		Semaphore:       t.semaphore,
		SP:              t.sp,
		StackBase:       t.stackBase,
		Mask:            t.mask,
	}
}

// PIDOf returns the PID of the named task.
func (k *Kernel) PIDOf(name string) (PID, bool) {
	slot, ok := k.findByName(name)
	if !ok {
		return NoPID, false
	}
	return k.tasks[slot].pid, true
}

// kill moves a task to KILLED: it leaves every wait structure, hands on the
// mutexes it holds and loses all of its memory. A running victim is
// switched away from by the caller.
func (k *Kernel) kill(slot int) {
	t := &k.tasks[slot]
	switch t.state {
	case StateInvalid, StateKilled:
		return
	case StateDelayed:
		t.ticks = 0
		k.sleeping--
	case StateBlockedMutex:
		m := &k.mutexes[t.mutex]
		m.queue.remove(slot)
		if m.locked && m.owner >= 0 {
			k.tasks[m.owner].currentPriority = k.effectivePriority(m.owner)
		}
	case StateBlockedSemaphore:
		k.semaphores[t.semaphore].queue.remove(slot)
	}

	for id := range k.mutexes {
		if m := &k.mutexes[id]; m.locked && m.owner == slot {
			k.handOff(id)
		}
	}

	k.mem.ReclaimAll(t.pid.owner(), &t.mask)
	t.mask = mm.NoAccess
	t.mutex, t.semaphore = -1, -1
	t.state = StateKilled
	k.cpu.DiscardContext(slot)
	if slot == k.current {
		k.pendSV = true
	}
}

// restart brings a KILLED task back as UNRUN with a fresh stack and a new
// generation. On allocation failure the task stays KILLED.
func (k *Kernel) restart(slot int) error {
	t := &k.tasks[slot]
	gen := t.gen + 1
	if gen > maxGeneration {
		gen = 1
	}
	prev := t.pid
	t.pid = makePID(slot, gen)
	if err := k.allocateStack(t); err != nil {
		t.pid = prev
		return err
	}
	t.gen = gen
	t.currentPriority = t.basePriority
	t.ticks = 0
	t.cpu = [2]uint64{}
	t.result = Result{}
	t.state = StateUnrun
	return nil
}

func (k *Kernel) setPriority(slot int, priority uint8) {
	t := &k.tasks[slot]
	t.basePriority = priority
	t.currentPriority = k.effectivePriority(slot)
	// A waiter's priority feeds the holder's.
	if t.state == StateBlockedMutex {
		if m := &k.mutexes[t.mutex]; m.locked && m.owner >= 0 {
			k.tasks[m.owner].currentPriority = k.effectivePriority(m.owner)
		}
	}
}
