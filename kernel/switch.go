package kernel

import (
	"encoding/binary"
	"fmt"

	"mpurtos/hal"
)

// contextSwitch saves the outgoing task, selects and restores the next one.
// Callers already run with further switches excluded.
func (k *Kernel) contextSwitch(cause Cause) error {
	k.pendSV = false
	out := k.current

	if out >= 0 {
		k.acct.stop(out, &k.tasks)
		if t := &k.tasks[out]; t.state != StateKilled && t.state != StateInvalid {
			t.sp = k.cpu.SaveContext(out, t.sp)
		}
	}

	next, ok := k.selectNext()
	if !ok {
		return k.halt(out, fmt.Sprintf("no runnable task after %s", cause))
	}
	k.current = next
	t := &k.tasks[next]

	k.installMask(t.mask)
	if t.state == StateUnrun {
		t.state = StateReady
		k.cpu.StartTask(next, t.pid, t.entry, t.sp)
	} else {
		t.sp = k.cpu.RestoreContext(next, t.sp)
	}

	k.acct.start(next)
	k.switches++
	return nil
}

// ExceptionFrame is the register frame the core stacks on exception entry.
type ExceptionFrame struct {
	R0, R1, R2, R3, R12, LR, PC, XPSR uint32
}

const (
	excReturnThreadPSP = 0xFFFFFFFD
	xpsrThumb          = 0x01000000
	frameBytes         = 32
)

// MSP is the top of the handler stack in the kernel SRAM region.
const MSP = 0x20001000

func (f ExceptionFrame) words() []uint32 {
	return []uint32{f.R0, f.R1, f.R2, f.R3, f.R12, f.LR, f.PC, f.XPSR}
}

var frameNames = []string{"R0", "R1", "R2", "R3", "R12", "LR", "PC", "xPSR"}

// Fault handles a protection fault raised by the running task at pc. The
// task is reported, killed and switched away from.
func (k *Kernel) Fault(f hal.MPUFault, pc uint32) error {
	if k.halted {
		return ErrHalted
	}
	cur := k.current
	t := &k.tasks[cur]
	psp := t.sp
	frame := ExceptionFrame{R0: f.Addr, R12: uint32(t.pid), LR: excReturnThreadPSP, PC: pc, XPSR: xpsrThumb}
	sp := k.stackFrame(psp, frame)

	k.logf("MPU fault in process %d", t.pid)
	k.logf("PSP: 0x%08X", psp)
	k.logf("MSP: 0x%08X", uint32(MSP))
	k.logf("mfaultstat flags: 0x%02X", f.Status)
	k.logf("memory fault addr: 0x%08X", f.Addr)
	k.logf("SP: 0x%08X", sp)
	k.logf("Offending instruction: 0x%08X", frame.PC)
	for i, w := range frame.words() {
		k.logf("%s: 0x%08X", frameNames[i], w)
	}

	k.kill(cur)
	k.logf("Killed offending task with PID %d", t.pid)
	return k.contextSwitch(CauseFault)
}

// stackFrame writes frame below sp the way exception entry does and returns
// the frame address. A frame that cannot be stacked is dropped.
func (k *Kernel) stackFrame(sp uint32, frame ExceptionFrame) uint32 {
	at := sp - frameBytes
	var buf [frameBytes]byte
	for i, w := range frame.words() {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	if err := k.bus.Store(at, buf[:]); err != nil {
		k.logf("stacking error at 0x%08X: %v", at, err)
	}
	return at
}

// FaultKind classifies faults that are fatal to the whole system.
type FaultKind uint8

const (
	FaultHard FaultKind = iota
	FaultBus
	FaultUsage
)

func (f FaultKind) String() string {
	switch f {
	case FaultHard:
		return "Hard"
	case FaultBus:
		return "Bus"
	case FaultUsage:
		return "Usage"
	default:
		return "unknown"
	}
}

// HardFault reports an unrecoverable fault in the running task and halts.
func (k *Kernel) HardFault(kind FaultKind, detail string) error {
	if k.halted {
		return ErrHalted
	}
	if k.current >= 0 {
		k.logf("%s fault in process %d", kind, k.tasks[k.current].pid)
	} else {
		k.logf("%s fault in kernel", kind)
	}
	return k.halt(k.current, fmt.Sprintf("%s fault: %s", kind, detail))
}

// Exit handles a task whose body returned: it is killed like any other.
func (k *Kernel) Exit() error {
	if k.halted {
		return ErrHalted
	}
	t := &k.tasks[k.current]
	k.logf("Task %s (PID %d) returned, killing it", t.name, t.pid)
	k.kill(k.current)
	return k.contextSwitch(CauseExit)
}

func (k *Kernel) halt(slot int, reason string) error {
	k.halted = true
	info := FatalInfo{Reason: reason}
	if slot >= 0 {
		info.PID = k.tasks[slot].pid
		info.Name = k.tasks[slot].name
	}
	k.logf("System halted: %s", reason)
	triggerFatal(info)
	return ErrHalted
}
