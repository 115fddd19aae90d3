package kernel

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"strings"
	"time"

	"mpurtos/hal"
)

// Context is a task's view of the machine. Every method runs unprivileged:
// memory goes through the MPU and kernel services go through traps.
type Context struct {
	m    *Machine
	th   *thread
	slot int
	pid  PID
	// sp is the task's stack pointer. Trap arguments are pushed below it.
	sp uint32
}

// PID returns the task's PID as of its last start.
func (c *Context) PID() PID { return c.pid }

// SP returns the task's stack pointer.
func (c *Context) SP() uint32 { return c.sp }

func (c *Context) park() Result {
	select {
	case msg := <-c.th.resume:
		if msg.kill {
			panic(errKilled)
		}
		return msg.result
	case <-c.m.stop:
		panic(errKilled)
	}
}

func (c *Context) raise(ev event) Result {
	if c.th.killed.Load() {
		panic(errKilled)
	}
	ev.slot = c.slot
	ev.sp = c.sp
	select {
	case c.m.events <- ev:
	case <-c.m.stop:
		panic(errKilled)
	}
	return c.park()
}

// checkpoint takes a pending preemption.
func (c *Context) checkpoint() {
	select {
	case <-c.m.stop:
		panic(errKilled)
	default:
	}
	if c.m.preempt.Load() {
		c.raise(event{kind: evPreempt})
	}
}

func (c *Context) trap(call Call, arg0, arg1 uint32) Result {
	return c.raise(event{kind: evTrap, req: Request{Call: call, Arg0: arg0, Arg1: arg1}})
}

// Yield gives up the rest of the time slice.
func (c *Context) Yield() { c.trap(CallYield, 0, 0) }

// Sleep delays the task for ticks timer ticks.
func (c *Context) Sleep(ticks uint32) { c.trap(CallSleep, ticks, 0) }

func (c *Context) Lock(mutex int) Status   { return c.trap(CallLock, uint32(mutex), 0).Status }
func (c *Context) Unlock(mutex int) Status { return c.trap(CallUnlock, uint32(mutex), 0).Status }
func (c *Context) Wait(sem int) Status     { return c.trap(CallWait, uint32(sem), 0).Status }
func (c *Context) Post(sem int) Status     { return c.trap(CallPost, uint32(sem), 0).Status }

// ReadInput polls the console receiver. ok is false when nothing arrived.
func (c *Context) ReadInput() (b byte, st hal.UARTStatus, ok bool) {
	sp := c.sp
	defer func() { c.sp = sp }()
	c.sp -= inputRecordBytes
	c.store(c.sp, make([]byte, inputRecordBytes))
	c.trap(CallReadInput, c.sp, 0)

	var rec [inputRecordBytes]byte
	c.load(c.sp, rec[:])
	flags := binary.LittleEndian.Uint32(rec[0:])
	st = hal.UARTStatus{
		RxFull:  flags&InputRxFull != 0,
		RxEmpty: flags&InputRxEmpty != 0,
		TxFull:  flags&InputTxFull != 0,
		TxEmpty: flags&InputTxEmpty != 0,
		Err:     binary.LittleEndian.Uint32(rec[4:]),
	}
	return byte(binary.LittleEndian.Uint32(rec[8:])), st, flags&InputValid != 0
}

// withBuffer copies b onto the task stack and passes it as a pointer and
// length to call. At least one word is reserved so an empty buffer still
// points into the task's own stack.
func (c *Context) withBuffer(call Call, b []byte) Result {
	sp := c.sp
	defer func() { c.sp = sp }()
	c.sp -= max(4, (uint32(len(b))+3)&^3)
	c.store(c.sp, b)
	return c.trap(call, c.sp, uint32(len(b)))
}

// Write sends s to the console.
func (c *Context) Write(s string) {
	if s == "" {
		return
	}
	c.withBuffer(CallWrite, []byte(s))
}

func (c *Context) Printf(format string, args ...any) {
	c.Write(fmt.Sprintf(format, args...))
}

// WriteAt passes a raw pointer and length to the write service.
func (c *Context) WriteAt(addr, n uint32) { c.trap(CallWrite, addr, n) }

func (c *Context) Reboot() { c.trap(CallReboot, 0, 0) }
func (c *Context) PS()     { c.trap(CallPS, 0, 0) }
func (c *Context) IPCS()   { c.trap(CallIPCS, 0, 0) }

func (c *Context) Kill(pid PID) Status { return c.trap(CallKill, uint32(pid), 0).Status }

func (c *Context) PKill(name string) Status {
	return c.withBuffer(CallPKill, []byte(name)).Status
}

func (c *Context) PI(on bool)      { c.trap(CallPI, boolArg(on), 0) }
func (c *Context) Preempt(on bool) { c.trap(CallPreempt, boolArg(on), 0) }

func (c *Context) Sched(p Policy) { c.trap(CallSched, boolArg(p == PolicyPriority), 0) }

// PidOf prints and returns the PID of the named task.
func (c *Context) PidOf(name string) (PID, Status) {
	r := c.withBuffer(CallPidOf, []byte(name))
	return PID(r.Value), r.Status
}

// Run restarts the named task if it was killed.
func (c *Context) Run(name string) Status {
	return c.withBuffer(CallRun, []byte(name)).Status
}

// Find returns the PID of the named task without printing.
func (c *Context) Find(name string) (PID, bool) {
	r := c.withBuffer(CallFind, []byte(name))
	return PID(r.Value), r.Status == StatusOK
}

// Malloc allocates size bytes of pool memory owned by the task.
func (c *Context) Malloc(size uint32) (uint32, Status) {
	r := c.trap(CallMalloc, size, 0)
	return r.Value, r.Status
}

func (c *Context) Free(addr uint32) Status { return c.trap(CallFree, addr, 1).Status }

func (c *Context) KillThread(pid PID) Status { return c.trap(CallKillThread, uint32(pid), 0).Status }

// RestartThread restarts a killed task and returns its new PID.
func (c *Context) RestartThread(pid PID) (PID, Status) {
	r := c.trap(CallRestartThread, uint32(pid), 0)
	return PID(r.Value), r.Status
}

func (c *Context) SetThreadPriority(pid PID, priority uint8) Status {
	return c.trap(CallSetThreadPriority, uint32(pid), uint32(priority)).Status
}

func boolArg(on bool) uint32 {
	if on {
		return 1
	}
	return 0
}

func (c *Context) access(addr, n uint32, write bool) {
	c.checkpoint()
	if f, ok := c.m.mpu.Check(addr, n, false, write); !ok {
		c.raise(event{kind: evFault, fault: f, pc: faultPC()})
		panic(errKilled)
	}
}

func (c *Context) busFault(err error) {
	c.raise(event{kind: evBusFault, detail: err.Error()})
	panic(errKilled)
}

func (c *Context) load(addr uint32, p []byte) {
	c.access(addr, uint32(len(p)), false)
	if err := c.m.bus.Load(addr, p); err != nil {
		c.busFault(err)
	}
}

func (c *Context) store(addr uint32, p []byte) {
	c.access(addr, uint32(len(p)), true)
	if err := c.m.bus.Store(addr, p); err != nil {
		c.busFault(err)
	}
}

func (c *Context) Load(addr uint32, p []byte)  { c.load(addr, p) }
func (c *Context) Store(addr uint32, p []byte) { c.store(addr, p) }

func (c *Context) Load8(addr uint32) uint8 {
	var b [1]byte
	c.load(addr, b[:])
	return b[0]
}

func (c *Context) Store8(addr uint32, v uint8) { c.store(addr, []byte{v}) }

func (c *Context) Load32(addr uint32) uint32 {
	var b [4]byte
	c.load(addr, b[:])
	return binary.LittleEndian.Uint32(b[:])
}

func (c *Context) Store32(addr, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	c.store(addr, b[:])
}

// GPIOBase is where pin data registers sit in the peripheral window, one
// word per pin.
const GPIOBase = hal.PeripheralBase + 0x25000

func (c *Context) pin(name string, write bool) hal.GPIOPin {
	g := c.m.gpio
	if g == nil {
		return nil
	}
	for i := 0; i < g.PinCount(); i++ {
		p := g.Pin(i)
		if p == nil || p.Name() != name {
			continue
		}
		c.access(GPIOBase+uint32(i)*4, 4, write)
		return p
	}
	return nil
}

// ReadPin returns the level of the named pin, false if it does not exist.
func (c *Context) ReadPin(name string) bool {
	p := c.pin(name, false)
	if p == nil {
		return false
	}
	level, _ := p.Read()
	return level
}

func (c *Context) WritePin(name string, level bool) {
	if p := c.pin(name, true); p != nil {
		_ = p.Write(level)
	}
}

func (c *Context) TogglePin(name string) {
	c.WritePin(name, !c.ReadPin(name))
}

const spinStep = 100 * time.Microsecond

// Spin busy-waits for us microseconds of the task's own run time without
// entering the kernel.
func (c *Context) Spin(us uint32) {
	left := time.Duration(us) * time.Microsecond
	for left > 0 {
		step := spinStep
		if left < step {
			step = left
		}
		time.Sleep(step)
		left -= step
		c.checkpoint()
	}
}

// faultPC returns the address of the first caller outside this package.
func faultPC() uint32 {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		if !strings.HasPrefix(f.Function, "mpurtos/kernel.") {
			return uint32(f.PC)
		}
		if !more {
			return 0
		}
	}
}

func formatPanic(v any, stack []byte) string {
	if len(stack) == 0 {
		return fmt.Sprint(v)
	}
	return fmt.Sprintf("%v\n%s", v, stack)
}
