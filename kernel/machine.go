package kernel

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"mpurtos/hal"
)

// errKilled unwinds the goroutine of a task that no longer runs.
var errKilled = errors.New("kernel: task killed")

type eventKind uint8

const (
	evTrap eventKind = iota
	evPreempt
	evFault
	evBusFault
	evExit
	evPanic
)

// event is an exception raised by the running task.
type event struct {
	kind   eventKind
	slot   int
	sp     uint32
	req    Request
	fault  hal.MPUFault
	pc     uint32
	detail string
}

type resumeMsg struct {
	result Result
	kill   bool
}

// thread carries one task body on its own goroutine. A thread only runs
// between a resume and its next event.
type thread struct {
	slot   int
	resume chan resumeMsg
	done   chan struct{}
	killed atomic.Bool
}

// Machine is the host core: it owns the kernel and runs each task body on
// a goroutine, passing a single baton so that exactly one of them, or the
// kernel, runs at a time.
type Machine struct {
	h hal.HAL
	k *Kernel

	mpu    hal.MPU
	bus    hal.Bus
	gpio   hal.GPIO
	cycles hal.CycleCounter

	events   chan event
	stop     chan struct{}
	stopOnce sync.Once
	preempt  atomic.Bool

	threads [MaxTasks]*thread
}

// NewMachine creates a kernel on h driven by a goroutine core.
func NewMachine(h hal.HAL, cfg Config) (*Machine, error) {
	m := &Machine{
		h:      h,
		mpu:    h.MPU(),
		bus:    h.Bus(),
		gpio:   h.GPIO(),
		cycles: h.Cycles(),
		events: make(chan event),
		stop:   make(chan struct{}),
	}
	k, err := New(h, m, cfg)
	if err != nil {
		return nil, err
	}
	m.k = k
	return m, nil
}

func (m *Machine) Kernel() *Kernel { return m.k }

// Register adds a task before Run.
func (m *Machine) Register(fn TaskFunc, name string, priority uint8, stackBytes uint32) (PID, error) {
	return m.k.Register(fn, name, priority, stackBytes)
}

// Run boots the kernel and services ticks and task exceptions until ctx is
// done, the system halts (ErrHalted) or a task asks for a reboot (ErrReboot).
func (m *Machine) Run(ctx context.Context) error {
	defer m.shutdown()

	if err := m.k.Boot(); err != nil {
		return err
	}
	m.resume()

	var ticks <-chan uint64
	if t := m.h.Time(); t != nil {
		ticks = t.Ticks()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			m.k.Tick()
			if m.k.SwitchPending() {
				m.preempt.Store(true)
			}
		case ev := <-m.events:
			if err := m.handle(ev); err != nil {
				return err
			}
			m.resume()
		}
	}
}

func (m *Machine) handle(ev event) error {
	if ev.slot != m.k.Current() {
		m.k.logf("kernel: event from slot %d while %d runs", ev.slot, m.k.Current())
		return m.k.HardFault(FaultHard, "event from a task that is not running")
	}
	m.k.Enter(ev.sp)
	switch ev.kind {
	case evTrap:
		return m.k.Trap(ev.req)
	case evPreempt:
		return m.k.PendSV()
	case evFault:
		return m.k.Fault(ev.fault, ev.pc)
	case evBusFault:
		return m.k.HardFault(FaultBus, ev.detail)
	case evExit:
		return m.k.Exit()
	case evPanic:
		return m.k.HardFault(FaultUsage, ev.detail)
	}
	return m.k.HardFault(FaultHard, "unknown exception")
}

// resume hands the baton to the current task.
func (m *Machine) resume() {
	cur := m.k.Current()
	th := m.threads[cur]
	if th == nil {
		return
	}
	m.preempt.Store(m.k.SwitchPending())
	th.resume <- resumeMsg{result: m.k.Result(cur)}
}

const shutdownWait = time.Second

func (m *Machine) shutdown() {
	m.stopOnce.Do(func() { close(m.stop) })
	for i, th := range m.threads {
		if th == nil {
			continue
		}
		select {
		case <-th.done:
		case <-time.After(shutdownWait):
			m.k.logf("kernel: task in slot %d did not stop", i)
		}
		m.threads[i] = nil
	}
}

const (
	savedWords = 16
	savedBytes = savedWords * 4
)

// SaveContext stacks R4-R11 and the exception frame below sp.
func (m *Machine) SaveContext(slot int, sp uint32) uint32 {
	at := sp - savedBytes
	var buf [savedBytes]byte
	for i := 0; i < savedWords; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(slot)<<24|uint32(i))
	}
	binary.LittleEndian.PutUint32(buf[13*4:], excReturnThreadPSP)
	binary.LittleEndian.PutUint32(buf[15*4:], xpsrThumb)
	if err := m.bus.Store(at, buf[:]); err != nil {
		return sp
	}
	return at
}

// RestoreContext unstacks what SaveContext pushed.
func (m *Machine) RestoreContext(slot int, sp uint32) uint32 {
	var buf [savedBytes]byte
	if err := m.bus.Load(sp, buf[:]); err != nil {
		return sp
	}
	return sp + savedBytes
}

func (m *Machine) StartTask(slot int, pid PID, fn TaskFunc, sp uint32) {
	if m.threads[slot] != nil {
		m.DiscardContext(slot)
	}
	th := &thread{
		slot:   slot,
		resume: make(chan resumeMsg, 1),
		done:   make(chan struct{}),
	}
	m.threads[slot] = th
	c := &Context{m: m, th: th, slot: slot, pid: pid, sp: sp}
	go m.runThread(th, c, fn)
}

// DiscardContext unwinds a parked task goroutine and waits for it to exit.
func (m *Machine) DiscardContext(slot int) {
	th := m.threads[slot]
	if th == nil {
		return
	}
	m.threads[slot] = nil
	th.killed.Store(true)
	select {
	case <-th.resume:
	default:
	}
	th.resume <- resumeMsg{kill: true}
	<-th.done
}

func (m *Machine) runThread(th *thread, c *Context, fn TaskFunc) {
	defer close(th.done)

	killed, pv, stack := protect(func() {
		c.park()
		fn(c)
	})
	if killed {
		return
	}
	ev := event{kind: evExit}
	if pv != nil {
		ev = event{kind: evPanic, detail: formatPanic(pv, stack)}
	}
	protect(func() {
		c.raise(ev)
		for {
			c.park()
		}
	})
}

// protect runs fn, turning the unwind of a killed task into killed and any
// other panic into pv.
func protect(fn func()) (killed bool, pv any, stack []byte) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if r == errKilled {
			killed = true
			return
		}
		pv, stack = r, captureStack()
	}()
	fn()
	return false, nil, nil
}
