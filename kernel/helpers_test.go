package kernel

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"mpurtos/hal"
)

type testLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *testLogger) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, s)
}

func (l *testLogger) WriteLineBytes(b []byte) { l.WriteLineString(string(b)) }

func (l *testLogger) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.lines, "\n")
}

type testSerial struct {
	mu  sync.Mutex
	out bytes.Buffer
}

func (s *testSerial) Read(p []byte) (int, error) { return 0, io.EOF }

func (s *testSerial) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Write(p)
}

func (s *testSerial) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.String()
}

type testTime struct {
	ch chan uint64
}

func (t *testTime) Ticks() <-chan uint64 { return t.ch }

type testCycles struct {
	us atomic.Uint64
}

func (c *testCycles) Micros() uint64 { return c.us.Load() }

type testHAL struct {
	log     *testLogger
	serial  *testSerial
	console *hal.UART
	t       *testTime
	cycles  *testCycles
	mpu     *hal.SoftMPU
	bus     *hal.MemoryBus
}

func newTestHAL() *testHAL {
	s := &testSerial{}
	return &testHAL{
		log:     &testLogger{},
		serial:  s,
		console: hal.NewUART(s, 16),
		t:       &testTime{ch: make(chan uint64)},
		cycles:  &testCycles{},
		mpu:     hal.NewMPU(),
		bus:     hal.NewMemoryBus(),
	}
}

func (h *testHAL) Logger() hal.Logger       { return h.log }
func (h *testHAL) Console() *hal.UART       { return h.console }
func (h *testHAL) GPIO() hal.GPIO           { return nil }
func (h *testHAL) Time() hal.Time           { return h.t }
func (h *testHAL) Cycles() hal.CycleCounter { return h.cycles }
func (h *testHAL) MPU() hal.MPU             { return h.mpu }
func (h *testHAL) Bus() hal.Bus             { return h.bus }

// fakeCPU records the register-level half of each switch.
type fakeCPU struct {
	saves    []int
	restores []int
	starts   []int
	discards []int
}

func (c *fakeCPU) SaveContext(slot int, sp uint32) uint32 {
	c.saves = append(c.saves, slot)
	return sp - savedBytes
}

func (c *fakeCPU) RestoreContext(slot int, sp uint32) uint32 {
	c.restores = append(c.restores, slot)
	return sp + savedBytes
}

func (c *fakeCPU) StartTask(slot int, pid PID, fn TaskFunc, sp uint32) {
	c.starts = append(c.starts, slot)
}

func (c *fakeCPU) DiscardContext(slot int) {
	c.discards = append(c.discards, slot)
}

// bodies are distinct entry functions; a task's identity is its entry.
var bodies = []TaskFunc{
	func(c *Context) { c.Yield() },
	func(c *Context) { c.Yield() },
	func(c *Context) { c.Yield() },
	func(c *Context) { c.Yield() },
	func(c *Context) { c.Yield() },
	func(c *Context) { c.Yield() },
	func(c *Context) { c.Yield() },
	func(c *Context) { c.Yield() },
	func(c *Context) { c.Yield() },
	func(c *Context) { c.Yield() },
	func(c *Context) { c.Yield() },
	func(c *Context) { c.Yield() },
	func(c *Context) { c.Yield() },
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.QueueCapacity = 4
	cfg.Semaphores = []uint32{1, 0}
	cfg.CPUWindow = 10
	return cfg
}

func newTestKernel(t *testing.T, cfg Config) (*Kernel, *testHAL, *fakeCPU) {
	t.Helper()
	h := newTestHAL()
	cpu := &fakeCPU{}
	k, err := New(h, cpu, cfg)
	if err != nil {
		t.Fatalf("New() err = %v", err)
	}
	return k, h, cpu
}

func mustRegister(t *testing.T, k *Kernel, i int, name string, prio uint8) PID {
	t.Helper()
	pid, err := k.Register(bodies[i], name, prio, 1024)
	if err != nil {
		t.Fatalf("Register(%s) err = %v", name, err)
	}
	return pid
}

func mustBoot(t *testing.T, k *Kernel) {
	t.Helper()
	if err := k.Boot(); err != nil {
		t.Fatalf("Boot() err = %v", err)
	}
}

func slotOf(pid PID) int { return pid.Slot() }

// trapAs issues req as the task pid, as if it had just been dispatched.
func trapAs(t *testing.T, k *Kernel, pid PID, req Request) Result {
	t.Helper()
	slot, ok := k.lookup(pid)
	if !ok {
		t.Fatalf("trapAs: no task %d", pid)
	}
	k.current = slot
	if k.tasks[slot].state == StateUnrun {
		k.tasks[slot].state = StateReady
	}
	if err := k.Trap(req); err != nil {
		t.Fatalf("Trap(%s) err = %v", req.Call, err)
	}
	return k.Result(slot)
}

func stateOf(t *testing.T, k *Kernel, pid PID) State {
	t.Helper()
	info, ok := k.Task(pid)
	if !ok {
		t.Fatalf("Task(%d) not found", pid)
	}
	return info.State
}

func contains(s, sub string) bool { return strings.Contains(s, sub) }
