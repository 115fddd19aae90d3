package kernel

import (
	"fmt"
	"strings"
)

const (
	psField   = 18
	ipcsField = 16
)

func field(s string, width int) string {
	return fmt.Sprintf("%-*s", width, s)
}

func percent(v uint32) string {
	return fmt.Sprintf("%d.%02d", v/100, v%100)
}

// ps prints the task table with each task's share of the last CPU window.
func (k *Kernel) ps() {
	var b strings.Builder
	for _, h := range []string{"pid", "name", "state", "sleep time", "blocked on", "%CPU"} {
		b.WriteString(field(h, psField))
	}
	b.WriteString("\n")

	var used uint32
	for i := range k.tasks {
		t := &k.tasks[i]
		if t.state == StateInvalid {
			continue
		}
		b.WriteString(field(fmt.Sprint(uint32(t.pid)), psField))
		b.WriteString(field(t.name, psField))
		b.WriteString(field(t.state.String(), psField))
		sleep := ""
		if t.state == StateDelayed {
			sleep = fmt.Sprint(t.ticks)
		}
		b.WriteString(field(sleep, psField))
		blocked := ""
		switch t.state {
		case StateBlockedMutex:
			blocked = fmt.Sprintf("mutex[%d]", t.mutex)
		case StateBlockedSemaphore:
			blocked = fmt.Sprintf("semaphore[%d]", t.semaphore)
		}
		b.WriteString(field(blocked, psField))
		share := k.acct.share(t)
		used += share
		b.WriteString(percent(share))
		b.WriteString("\n")
	}

	kernel := uint32(0)
	if used < 10000 {
		kernel = 10000 - used
	}
	b.WriteString(field("", psField))
	b.WriteString(field("kernel", psField))
	b.WriteString(field("", 3*psField))
	b.WriteString(percent(kernel))
	b.WriteString("\n")
	k.printf("%s", b.String())
}

func (k *Kernel) names(slots []int) string {
	names := make([]string, 0, len(slots))
	for _, s := range slots {
		names = append(names, k.tasks[s].name)
	}
	return strings.Join(names, ", ")
}

// ipcs prints the mutex and semaphore tables.
func (k *Kernel) ipcs() {
	var b strings.Builder
	b.WriteString("------ Mutexes ------\n")
	for _, h := range []string{"index", "locked", "held by", "queue size", "waiting"} {
		b.WriteString(field(h, ipcsField))
	}
	b.WriteString("\n")
	for i := range k.mutexes {
		m := &k.mutexes[i]
		holder := "N/A"
		if m.locked {
			holder = k.tasks[m.owner].name
		}
		b.WriteString(field(fmt.Sprint(i), ipcsField))
		b.WriteString(field(fmt.Sprint(m.locked), ipcsField))
		b.WriteString(field(holder, ipcsField))
		b.WriteString(field(fmt.Sprint(m.queue.len()), ipcsField))
		b.WriteString(k.names(m.queue.items()))
		b.WriteString("\n")
	}

	b.WriteString("\n------ Semaphores ------\n")
	for _, h := range []string{"index", "count", "queue size", "waiting"} {
		b.WriteString(field(h, ipcsField))
	}
	b.WriteString("\n")
	for i := range k.semaphores {
		s := &k.semaphores[i]
		b.WriteString(field(fmt.Sprint(i), ipcsField))
		b.WriteString(field(fmt.Sprint(s.count), ipcsField))
		b.WriteString(field(fmt.Sprint(s.queue.len()), ipcsField))
		b.WriteString(k.names(s.queue.items()))
		b.WriteString("\n")
	}
	k.printf("%s", b.String())
}

func (k *Kernel) killCommand(pid PID) Status {
	k.printf("Task with PID %d ", uint32(pid))
	defer k.printf("\n")
	slot, ok := k.lookup(pid)
	if !ok {
		k.printf("does not exist")
		return StatusNotFound
	}
	if k.tasks[slot].state == StateKilled {
		k.printf("is not running")
		return StatusNotRunning
	}
	k.kill(slot)
	k.printf("was killed successfully")
	return StatusOK
}

func (k *Kernel) pkillCommand(name string) Status {
	k.printf("Task with name %q ", name)
	defer k.printf("\n")
	slot, ok := k.findByName(name)
	if !ok {
		k.printf("does not exist")
		return StatusNotFound
	}
	if k.tasks[slot].state == StateKilled {
		k.printf("is not running")
		return StatusNotRunning
	}
	k.kill(slot)
	k.printf("was killed successfully")
	return StatusOK
}

func (k *Kernel) pidofCommand(name string) Result {
	pid, ok := k.PIDOf(name)
	if !ok {
		k.printf("No process named %s\n", name)
		return Result{Status: StatusNotFound}
	}
	k.printf("%d\n", uint32(pid))
	return Result{Value: uint32(pid)}
}

func (k *Kernel) runCommand(name string) Result {
	slot, ok := k.findByName(name)
	if !ok {
		k.printf("No task named %q\n", name)
		return Result{Status: StatusNotFound}
	}
	if k.tasks[slot].state != StateKilled {
		k.printf("Task %q is already running.\n", name)
		return Result{Status: StatusAlreadyRunning}
	}
	res := k.restartResult(slot)
	if res.Status != StatusOK {
		k.printf("Cannot restart %q: %s\n", name, res.Status)
		return res
	}
	k.printf("Restarted thread named %q\n", name)
	return res
}
