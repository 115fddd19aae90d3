package kernel

import "sync/atomic"

// FatalInfo describes a condition that stopped the whole system.
type FatalInfo struct {
	PID    PID
	Name   string
	Reason string
	Stack  []byte
}

var fatalHandler atomic.Value // func(FatalInfo)

// SetFatalHandler installs a process-wide handler for system halts.
//
// The handler runs once per halted kernel, on the kernel's goroutine. It
// must not panic.
func SetFatalHandler(fn func(FatalInfo)) {
	fatalHandler.Store(fn)
}

func triggerFatal(info FatalInfo) {
	info.Stack = captureStack()
	if v := fatalHandler.Load(); v != nil {
		if fn, ok := v.(func(FatalInfo)); ok && fn != nil {
			fn(info)
		}
	}
}

// Halted reports whether the kernel has stopped.
func (k *Kernel) Halted() bool { return k.halted }
