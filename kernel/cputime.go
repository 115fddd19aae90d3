package kernel

import "mpurtos/hal"

// cpuAccount keeps per-task run time in two slots: one being filled and one
// holding the last finished window, which is what gets reported.
type cpuAccount struct {
	clock  hal.CycleCounter
	window uint32

	active      int
	ticks       uint32
	windowStart uint64
	runStart    uint64
	running     int
	// total is the length of each slot's window in microseconds.
	total [2]uint64
}

func (a *cpuAccount) init(clock hal.CycleCounter, window uint32) {
	a.clock = clock
	a.window = window
	a.running = -1
	a.windowStart = a.now()
}

func (a *cpuAccount) now() uint64 {
	if a.clock == nil {
		return 0
	}
	return a.clock.Micros()
}

func (a *cpuAccount) start(slot int) {
	a.running = slot
	a.runStart = a.now()
}

func (a *cpuAccount) stop(slot int, tasks *[MaxTasks]tcb) {
	if a.running != slot || slot < 0 {
		return
	}
	now := a.now()
	tasks[slot].cpu[a.active] += now - a.runStart
	a.runStart = now
	a.running = -1
}

// tick flips the slots at the end of each window.
func (a *cpuAccount) tick(current int, tasks *[MaxTasks]tcb) {
	a.ticks++
	if a.ticks < a.window {
		return
	}
	a.ticks = 0
	if current >= 0 && a.running == current {
		a.stop(current, tasks)
		defer a.start(current)
	}
	now := a.now()
	a.total[a.active] = now - a.windowStart
	a.windowStart = now
	a.active ^= 1
	for i := range tasks {
		tasks[i].cpu[a.active] = 0
	}
}

// share returns a task's part of the last finished window in hundredths of
// a percent.
func (a *cpuAccount) share(t *tcb) uint32 {
	done := a.active ^ 1
	total := a.total[done]
	if total == 0 {
		return 0
	}
	v := t.cpu[done] * 10000 / total
	if v > 10000 {
		v = 10000
	}
	return uint32(v)
}
