package kernel

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func idleLoop(c *Context) {
	for {
		c.Yield()
	}
}

func newTestMachine(t *testing.T) (*Machine, *testHAL) {
	t.Helper()
	h := newTestHAL()
	m, err := NewMachine(h, testConfig())
	if err != nil {
		t.Fatalf("NewMachine() err = %v", err)
	}
	if _, err := m.Register(idleLoop, "idle", 7, 1024); err != nil {
		t.Fatalf("Register(idle) err = %v", err)
	}
	return m, h
}

func mustAdd(t *testing.T, m *Machine, fn TaskFunc, name string, prio uint8) PID {
	t.Helper()
	pid, err := m.Register(fn, name, prio, 1024)
	if err != nil {
		t.Fatalf("Register(%s) err = %v", name, err)
	}
	return pid
}

// start runs m until the test ends or stop is called.
func start(t *testing.T, m *Machine) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx) }()
	var once atomic.Bool
	stop = func() error {
		if !once.CompareAndSwap(false, true) {
			return nil
		}
		cancel()
		select {
		case err := <-errc:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("Run() did not return")
			return nil
		}
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

// result waits for Run to finish on its own.
func result(t *testing.T, m *Machine) error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- m.Run(context.Background()) }()
	select {
	case err := <-errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestMachinePriorityOrderAndSleep(t *testing.T) {
	m, h := newTestMachine(t)
	woke := make(chan struct{}, 1)
	mustAdd(t, m, func(c *Context) {
		c.Write("A\n")
		c.Sleep(10)
		woke <- struct{}{}
		for {
			c.Sleep(1000)
		}
	}, "A", 3)
	mustAdd(t, m, func(c *Context) {
		c.Write("B\n")
		c.Wait(1)
	}, "B", 1)
	start(t, m)

	waitFor(t, "A to sleep", func() bool { return strings.Contains(h.serial.String(), "A\n") })
	if got := h.serial.String(); got != "B\nA\n" {
		t.Fatalf("console = %q, want B before A", got)
	}
	for i := 0; i < 9; i++ {
		h.t.ch <- uint64(i)
	}
	select {
	case <-woke:
		t.Fatal("A woke before 10 ticks")
	case <-time.After(50 * time.Millisecond):
	}
	h.t.ch <- 9
	select {
	case <-woke:
	case <-time.After(3 * time.Second):
		t.Fatal("A did not wake after 10 ticks")
	}
}

func TestMachineEmptyNameLookups(t *testing.T) {
	m, h := newTestMachine(t)
	type lookups struct {
		pkill, pidof, run Status
		found             bool
	}
	done := make(chan lookups, 1)
	mustAdd(t, m, func(c *Context) {
		var r lookups
		r.pkill = c.PKill("")
		_, r.pidof = c.PidOf("")
		r.run = c.Run("")
		_, r.found = c.Find("")
		done <- r
		for {
			c.Sleep(1000)
		}
	}, "lookup", 2)
	start(t, m)

	var r lookups
	select {
	case r = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("task did not finish its lookups")
	}
	if r.pkill == StatusOK || r.pidof == StatusOK || r.run == StatusOK || r.found {
		t.Fatalf("empty-name lookups = %+v, want all to fail", r)
	}
	if strings.Contains(h.log.String(), "Killed offending task") {
		t.Fatalf("log = %s", h.log.String())
	}
}

func TestMachineKillsErrantTask(t *testing.T) {
	m, h := newTestMachine(t)
	var runs atomic.Int64
	mustAdd(t, m, func(c *Context) {
		for {
			runs.Add(1)
			c.Yield()
		}
	}, "survivor", 3)
	after := make(chan struct{}, 1)
	mustAdd(t, m, func(c *Context) {
		c.Store32(0x20000000, 0xDEADBEEF)
		after <- struct{}{}
	}, "errant", 2)
	start(t, m)

	waitFor(t, "the fault report", func() bool { return strings.Contains(h.log.String(), "Killed offending task") })
	if !strings.Contains(h.log.String(), "memory fault addr: 0x20000000") {
		t.Fatalf("log = %s", h.log.String())
	}
	n := runs.Load()
	waitFor(t, "the survivor to keep running", func() bool { return runs.Load() > n+10 })
	select {
	case <-after:
		t.Fatal("errant task ran past its fault")
	default:
	}
	var word [4]byte
	_ = h.bus.Load(0x20000000, word[:])
	if word != [4]byte{} {
		t.Fatalf("kernel memory written: % x", word)
	}
}

func TestMachineInvalidPointerKillsCaller(t *testing.T) {
	m, h := newTestMachine(t)
	after := make(chan struct{}, 1)
	mustAdd(t, m, func(c *Context) {
		c.WriteAt(0x20000000, 4)
		after <- struct{}{}
	}, "sneaky", 3)
	start(t, m)

	waitFor(t, "the kill", func() bool { return strings.Contains(h.log.String(), "Killed offending task") })
	if !strings.Contains(h.log.String(), "Invalid pointer") {
		t.Fatalf("log = %s", h.log.String())
	}
	if got := h.serial.String(); got != "" {
		t.Fatalf("console = %q, want nothing", got)
	}
	select {
	case <-after:
		t.Fatal("caller ran past the bad trap")
	default:
	}
}

func TestMachineStoreBelowStackFaults(t *testing.T) {
	m, h := newTestMachine(t)
	own := make(chan struct{}, 1)
	mustAdd(t, m, func(c *Context) {
		base := c.SP() - 1024
		c.Store32(base, 1)
		own <- struct{}{}
		c.Store32(base-0x400, 1)
	}, "low", 3)
	start(t, m)

	select {
	case <-own:
	case <-time.After(3 * time.Second):
		t.Fatal("store to own stack did not complete")
	}
	waitFor(t, "the fault", func() bool { return strings.Contains(h.log.String(), "MPU fault in process") })
}

func TestMachineReturningTaskIsKilled(t *testing.T) {
	m, h := newTestMachine(t)
	pid := mustAdd(t, m, func(c *Context) { c.Write("bye\n") }, "brief", 3)
	stop := start(t, m)

	waitFor(t, "the exit", func() bool { return strings.Contains(h.log.String(), "returned") })
	if err := stop(); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() err = %v, want context.Canceled", err)
	}
	if info, _ := m.Kernel().Task(pid); info.State != StateKilled {
		t.Fatalf("state = %s, want KILLED", info.State)
	}
}

func TestMachinePanicHalts(t *testing.T) {
	m, h := newTestMachine(t)
	mustAdd(t, m, func(c *Context) { panic("bad state") }, "crash", 3)
	if err := result(t, m); !errors.Is(err, ErrHalted) {
		t.Fatalf("Run() err = %v, want ErrHalted", err)
	}
	if !strings.Contains(h.log.String(), "bad state") {
		t.Fatalf("log = %s", h.log.String())
	}
}

func TestMachineReboot(t *testing.T) {
	m, h := newTestMachine(t)
	mustAdd(t, m, func(c *Context) { c.Reboot() }, "reboot", 3)
	if err := result(t, m); !errors.Is(err, ErrReboot) {
		t.Fatalf("Run() err = %v, want ErrReboot", err)
	}
	if got := h.serial.String(); got != "REBOOTING\n" {
		t.Fatalf("console = %q", got)
	}
}

func TestMachinePreemptsSpinningTask(t *testing.T) {
	m, h := newTestMachine(t)
	mustAdd(t, m, func(c *Context) {
		for {
			c.Spin(1000)
		}
	}, "hog", 3)
	mustAdd(t, m, func(c *Context) {
		for {
			c.Write("tick\n")
			c.Sleep(1)
		}
	}, "sleeper", 2)
	start(t, m)

	waitFor(t, "the first line", func() bool { return strings.Count(h.serial.String(), "tick") >= 1 })
	for i := 0; i < 3; i++ {
		h.t.ch <- uint64(i)
	}
	waitFor(t, "a preempted hog", func() bool { return strings.Count(h.serial.String(), "tick") >= 2 })
}

func TestMachineCancel(t *testing.T) {
	m, _ := newTestMachine(t)
	stop := start(t, m)
	time.Sleep(10 * time.Millisecond)
	if err := stop(); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() err = %v, want context.Canceled", err)
	}
}
