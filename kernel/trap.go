package kernel

import (
	"encoding/binary"

	"mpurtos/hal"
)

// Call is a trap number.
type Call uint8

const (
	CallYield Call = iota
	CallSleep
	CallLock
	CallUnlock
	CallWait
	CallPost
	CallReadInput
	CallWrite
	CallReboot
	CallPS
	CallIPCS
	CallKill
	CallPKill
	CallPI
	CallPreempt
	CallSched
	CallPidOf
	CallRun
	CallMalloc
	CallFree
	CallKillThread
	CallRestartThread
	CallSetThreadPriority
	CallFind
	numCalls
)

var callNames = [numCalls]string{
	"yield", "sleep", "lock", "unlock", "wait", "post", "read-input", "write",
	"reboot", "ps", "ipcs", "kill", "pkill", "pi", "preempt", "sched", "pidof",
	"run", "malloc", "free", "kill-thread", "restart-thread", "set-thread-priority",
	"find",
}

func (c Call) String() string {
	if c < numCalls {
		return callNames[c]
	}
	return "unknown"
}

// Request is one trap: a call number and up to two argument registers.
type Request struct {
	Call Call
	Arg0 uint32
	Arg1 uint32
}

// Status is the outcome of a trap as seen by the task.
type Status uint8

const (
	StatusOK Status = iota
	StatusInvalidID
	StatusInvalidArg
	StatusNotOwner
	StatusQueueFull
	StatusNoMemory
	StatusNotFound
	StatusNotRunning
	StatusAlreadyRunning
	StatusBadCall
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInvalidID:
		return "invalid id"
	case StatusInvalidArg:
		return "invalid argument"
	case StatusNotOwner:
		return "not owner"
	case StatusQueueFull:
		return "queue full"
	case StatusNoMemory:
		return "out of memory"
	case StatusNotFound:
		return "no such task"
	case StatusNotRunning:
		return "not running"
	case StatusAlreadyRunning:
		return "already running"
	case StatusBadCall:
		return "bad call"
	default:
		return "unknown"
	}
}

// Result is returned to the trapping task in its argument registers.
type Result struct {
	Status Status
	Value  uint32
}

// inputRecordBytes is the size of the record read-input stores: flags,
// receive error count and the received byte, one word each.
const inputRecordBytes = 12

const (
	InputRxFull = 1 << iota
	InputRxEmpty
	InputTxFull
	InputTxEmpty
	InputValid
)

// Result returns the last trap result of the task in slot.
func (k *Kernel) Result(slot int) Result {
	if slot < 0 || slot >= MaxTasks {
		return Result{}
	}
	return k.tasks[slot].result
}

// Trap runs one request on behalf of the running task and switches away
// from it when the request blocked, yielded or killed it, or when a
// preemption is pending.
func (k *Kernel) Trap(req Request) error {
	if k.halted {
		return ErrHalted
	}
	cur := k.current
	t := &k.tasks[cur]
	t.result = Result{}

	cause := k.dispatch(req)
	if k.reboot {
		return ErrReboot
	}
	if k.halted {
		return ErrHalted
	}
	if t.state != StateReady {
		if t.state == StateKilled {
			cause = CauseKill
		}
		return k.contextSwitch(cause)
	}
	if k.pendSV {
		if cause == CauseYield {
			return k.contextSwitch(cause)
		}
		return k.contextSwitch(CauseTick)
	}
	return nil
}

func (k *Kernel) dispatch(req Request) Cause {
	t := &k.tasks[k.current]
	set := func(s Status) { t.result.Status = s }

	switch req.Call {
	case CallYield:
		k.pendSV = true
		return CauseYield
	case CallSleep:
		if req.Arg0 == 0 {
			k.pendSV = true
			return CauseYield
		}
		t.state = StateDelayed
		t.ticks = req.Arg0
		k.sleeping++
		return CauseSleep
	case CallLock:
		set(k.lock(int(req.Arg0)))
		return CauseBlock
	case CallUnlock:
		set(k.unlock(int(req.Arg0)))
	case CallWait:
		set(k.wait(int(req.Arg0)))
		return CauseBlock
	case CallPost:
		set(k.post(int(req.Arg0)))
	case CallReadInput:
		if k.ensurePointer(req.Arg0, inputRecordBytes) {
			k.readInput(req.Arg0)
		}
	case CallWrite:
		if b, ok := k.readTaskBuffer(req.Arg0, req.Arg1); ok {
			_, _ = k.out.Write(b)
		}
	case CallReboot:
		k.printf("REBOOTING\n")
		k.reboot = true
	case CallPS:
		k.ps()
	case CallIPCS:
		k.ipcs()
	case CallKill:
		set(k.killCommand(PID(req.Arg0)))
	case CallPKill:
		if b, ok := k.readTaskBuffer(req.Arg0, req.Arg1); ok {
			set(k.pkillCommand(string(b)))
		}
	case CallPI:
		k.inherit = req.Arg0 != 0
		k.printf("pi %s\n", onOff(k.inherit))
	case CallPreempt:
		k.preempt = req.Arg0 != 0
		k.printf("preempt %s\n", onOff(k.preempt))
	case CallSched:
		if req.Arg0 != 0 {
			k.policy = PolicyPriority
		} else {
			k.policy = PolicyRoundRobin
		}
		k.printf("sched %s\n", k.policy)
	case CallPidOf:
		if b, ok := k.readTaskBuffer(req.Arg0, req.Arg1); ok {
			t.result = k.pidofCommand(string(b))
		}
	case CallRun:
		if b, ok := k.readTaskBuffer(req.Arg0, req.Arg1); ok {
			t.result = k.runCommand(string(b))
		}
	case CallMalloc:
		addr, err := k.mem.Allocate(req.Arg0, t.pid.owner(), &t.mask)
		if err != nil {
			set(StatusNoMemory)
			break
		}
		k.installMask(t.mask)
		t.result.Value = addr
	case CallFree:
		if !k.ensurePointer(req.Arg0, 1) {
			break
		}
		if !k.mem.Free(req.Arg0, t.pid.owner(), &t.mask) {
			set(StatusInvalidArg)
			break
		}
		k.installMask(t.mask)
	case CallKillThread:
		slot, ok := k.lookup(PID(req.Arg0))
		switch {
		case !ok:
			set(StatusNotFound)
		case k.tasks[slot].state == StateKilled:
			set(StatusNotRunning)
		default:
			k.kill(slot)
		}
	case CallRestartThread:
		slot, ok := k.lookup(PID(req.Arg0))
		if !ok {
			set(StatusNotFound)
			break
		}
		t.result = k.restartResult(slot)
	case CallSetThreadPriority:
		slot, ok := k.lookup(PID(req.Arg0))
		switch {
		case !ok:
			set(StatusNotFound)
		case req.Arg1 >= NumPriorities:
			set(StatusInvalidArg)
		default:
			k.setPriority(slot, uint8(req.Arg1))
		}
	case CallFind:
		if b, ok := k.readTaskBuffer(req.Arg0, req.Arg1); ok {
			if pid, found := k.PIDOf(string(b)); found {
				t.result.Value = uint32(pid)
			} else {
				set(StatusNotFound)
			}
		}
	default:
		set(StatusBadCall)
	}
	return CauseYield
}

func (k *Kernel) restartResult(slot int) Result {
	if k.tasks[slot].state != StateKilled {
		return Result{Status: StatusAlreadyRunning, Value: uint32(k.tasks[slot].pid)}
	}
	if err := k.restart(slot); err != nil {
		return Result{Status: StatusNoMemory}
	}
	return Result{Value: uint32(k.tasks[slot].pid)}
}

// ensurePointer checks that the running task owns every byte of
// [addr, addr+size). A task that hands the kernel anything else is killed
// and the call is not performed.
func (k *Kernel) ensurePointer(addr, size uint32) bool {
	if size == 0 {
		size = 1
	}
	t := &k.tasks[k.current]
	end := addr + size - 1
	ok := end >= addr &&
		k.mem.OwnerOf(addr) == t.pid.owner() &&
		k.mem.OwnerOf(end) == t.pid.owner()
	if !ok {
		k.logf("Invalid pointer 0x%08X+%d from process %d", addr, size, t.pid)
		k.kill(k.current)
		k.logf("Killed offending task with PID %d", t.pid)
	}
	return ok
}

// readTaskBuffer validates and copies a task buffer into the kernel.
func (k *Kernel) readTaskBuffer(addr, size uint32) ([]byte, bool) {
	if !k.ensurePointer(addr, size) {
		return nil, false
	}
	b := make([]byte, size)
	if err := k.bus.Load(addr, b); err != nil {
		k.tasks[k.current].result.Status = StatusInvalidArg
		return nil, false
	}
	return b, true
}

func (k *Kernel) readInput(addr uint32) {
	var flags, errs, value uint32
	if k.input != nil {
		b, st, ok := k.input.Poll()
		flags = inputFlags(st)
		errs = st.Err
		if ok {
			flags |= InputValid
			value = uint32(b)
		}
	} else {
		flags = InputRxEmpty | InputTxEmpty
	}
	var rec [inputRecordBytes]byte
	binary.LittleEndian.PutUint32(rec[0:], flags)
	binary.LittleEndian.PutUint32(rec[4:], errs)
	binary.LittleEndian.PutUint32(rec[8:], value)
	if err := k.bus.Store(addr, rec[:]); err != nil {
		k.logf("read-input error at 0x%08X: %v", addr, err)
	}
}

func inputFlags(st hal.UARTStatus) uint32 {
	var f uint32
	if st.RxFull {
		f |= InputRxFull
	}
	if st.RxEmpty {
		f |= InputRxEmpty
	}
	if st.TxFull {
		f |= InputTxFull
	}
	if st.TxEmpty {
		f |= InputTxEmpty
	}
	return f
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
