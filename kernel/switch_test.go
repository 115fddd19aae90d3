package kernel

import (
	"errors"
	"strings"
	"testing"

	"mpurtos/hal"
)

func TestSwitchStartsThenRestores(t *testing.T) {
	k, _, cpu := newTestKernel(t, testConfig())
	a := mustRegister(t, k, 0, "a", 3)
	b := mustRegister(t, k, 1, "b", 3)
	mustBoot(t, k)

	for i := 0; i < 3; i++ {
		if err := k.Trap(Request{Call: CallYield}); err != nil {
			t.Fatalf("Trap(yield) err = %v", err)
		}
	}
	want := []int{slotOf(a), slotOf(b)}
	if len(cpu.starts) != 2 || cpu.starts[0] != want[0] || cpu.starts[1] != want[1] {
		t.Fatalf("starts = %v, want %v", cpu.starts, want)
	}
	if got := len(cpu.restores); got != 2 {
		t.Fatalf("restores = %v, want two", cpu.restores)
	}
	if got := len(cpu.saves); got != 3 {
		t.Fatalf("saves = %v, want three", cpu.saves)
	}
	if got := k.Switches(); got != 4 {
		t.Fatalf("Switches() = %d, want 4", got)
	}

	// A saved context sits below the stack pointer it was saved from.
	info, _ := k.Task(a)
	if info.SP != info.StackBase+1024-savedBytes {
		t.Fatalf("a sp = %#x, want %#x", info.SP, info.StackBase+1024-savedBytes)
	}
}

func TestSwitchInstallsMask(t *testing.T) {
	k, h, _ := newTestKernel(t, testConfig())
	a := mustRegister(t, k, 0, "a", 3)
	mustBoot(t, k)

	info, _ := k.Task(a)
	// One 1 KiB stack at the bottom of the heap is sub-region 4.
	if info.StackBase != 0x20001000 {
		t.Fatalf("stack base = %#x", info.StackBase)
	}
	if got := h.mpu.Region(RegionTaskFirst).SRD; got != 0xEF {
		t.Fatalf("region 1 SRD = %#02x, want 0xef", got)
	}
	for r := 1; r < RegionTaskCount; r++ {
		if got := h.mpu.Region(RegionTaskFirst + r).SRD; got != 0xFF {
			t.Fatalf("region %d SRD = %#02x, want 0xff", RegionTaskFirst+r, got)
		}
	}
	if _, ok := h.mpu.Check(info.StackBase, 4, false, true); !ok {
		t.Fatal("task denied its own stack")
	}
	if _, ok := h.mpu.Check(info.StackBase-4, 4, false, false); ok {
		t.Fatal("task allowed below its stack")
	}
	if _, ok := h.mpu.Check(hal.FlashBase+0x100, 4, false, false); !ok {
		t.Fatal("task denied flash read")
	}
	if _, ok := h.mpu.Check(hal.SRAMBase, 4, true, true); !ok {
		t.Fatal("kernel denied its own memory")
	}
}

func TestFaultKillsAndReports(t *testing.T) {
	k, h, cpu := newTestKernel(t, testConfig())
	idle := mustRegister(t, k, 0, "idle", 7)
	a := mustRegister(t, k, 1, "errant", 3)
	mustBoot(t, k)

	f, ok := h.mpu.Check(hal.SRAMBase, 4, false, true)
	if ok {
		t.Fatal("unprivileged write to kernel memory allowed")
	}
	if err := k.Fault(f, 0x1234); err != nil {
		t.Fatalf("Fault() err = %v", err)
	}
	if got := stateOf(t, k, a); got != StateKilled {
		t.Fatalf("state = %s, want KILLED", got)
	}
	if k.Current() != slotOf(idle) {
		t.Fatalf("Current() = %d, want idle", k.Current())
	}
	if len(cpu.saves) != 0 {
		t.Fatalf("killed task was saved: %v", cpu.saves)
	}
	log := h.log.String()
	for _, want := range []string{
		"MPU fault in process",
		"MSP: 0x20001000",
		"memory fault addr: 0x20000000",
		"Offending instruction: 0x00001234",
		"xPSR: 0x01000000",
		"Killed offending task with PID",
	} {
		if !strings.Contains(log, want) {
			t.Fatalf("log missing %q:\n%s", want, log)
		}
	}
	if n := k.Memory().Owned(a.owner()); n != 0 {
		t.Fatalf("killed task still owns %d blocks", n)
	}
}

func TestExitKillsTask(t *testing.T) {
	k, h, _ := newTestKernel(t, testConfig())
	mustRegister(t, k, 0, "idle", 7)
	a := mustRegister(t, k, 1, "short", 3)
	mustBoot(t, k)

	if err := k.Exit(); err != nil {
		t.Fatalf("Exit() err = %v", err)
	}
	if got := stateOf(t, k, a); got != StateKilled {
		t.Fatalf("state = %s, want KILLED", got)
	}
	if !strings.Contains(h.log.String(), "returned") {
		t.Fatalf("log = %q", h.log.String())
	}
}

func TestHardFaultHalts(t *testing.T) {
	var got FatalInfo
	calls := 0
	SetFatalHandler(func(info FatalInfo) {
		got = info
		calls++
	})
	t.Cleanup(func() { SetFatalHandler(nil) })

	k, _, _ := newTestKernel(t, testConfig())
	a := mustRegister(t, k, 0, "bad", 3)
	mustBoot(t, k)

	if err := k.HardFault(FaultUsage, "boom"); !errors.Is(err, ErrHalted) {
		t.Fatalf("HardFault() err = %v, want ErrHalted", err)
	}
	if !k.Halted() {
		t.Fatal("Halted() = false")
	}
	if calls != 1 || got.PID != a || got.Name != "bad" || !strings.Contains(got.Reason, "boom") {
		t.Fatalf("fatal handler got %+v after %d calls", got, calls)
	}
	if err := k.Trap(Request{Call: CallYield}); !errors.Is(err, ErrHalted) {
		t.Fatalf("Trap() after halt err = %v", err)
	}
	if err := k.HardFault(FaultBus, "again"); !errors.Is(err, ErrHalted) || calls != 1 {
		t.Fatalf("second HardFault() err = %v, calls = %d", err, calls)
	}
}

func TestCPUShare(t *testing.T) {
	k, h, _ := newTestKernel(t, testConfig())
	a := mustRegister(t, k, 0, "a", 3)
	b := mustRegister(t, k, 1, "b", 3)
	mustBoot(t, k)

	// a runs for 3 ms, b for 1 ms of a 4 ms window.
	h.cycles.us.Add(3000)
	if err := k.Trap(Request{Call: CallYield}); err != nil {
		t.Fatal(err)
	}
	h.cycles.us.Add(1000)
	for i := 0; i < 10; i++ {
		k.Tick()
	}

	share := func(pid PID) uint32 {
		slot, _ := k.lookup(pid)
		return k.acct.share(&k.tasks[slot])
	}
	if got := share(a); got != 7500 {
		t.Fatalf("a share = %d, want 7500", got)
	}
	if got := share(b); got != 2500 {
		t.Fatalf("b share = %d, want 2500", got)
	}
}

func TestEnterRecordsStackPointer(t *testing.T) {
	k, _, _ := newTestKernel(t, testConfig())
	a := mustRegister(t, k, 0, "a", 3)
	mustBoot(t, k)
	k.Enter(0x20001200)
	if info, _ := k.Task(a); info.SP != 0x20001200 {
		t.Fatalf("SP = %#x, want 0x20001200", info.SP)
	}
}
