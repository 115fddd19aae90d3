package kernel

// Processor is the register-level half of a context switch. The kernel
// decides which task runs; the processor moves register state between the
// core and task stacks.
type Processor interface {
	// SaveContext pushes the callee-saved registers of the task in slot onto
	// its stack at sp and returns the new stack pointer.
	SaveContext(slot int, sp uint32) uint32
	// RestoreContext pops the registers saved by SaveContext and returns the
	// stack pointer the task resumes with.
	RestoreContext(slot int, sp uint32) uint32
	// StartTask prepares a first entry into fn on an empty stack.
	StartTask(slot int, pid PID, fn TaskFunc, sp uint32)
	// DiscardContext abandons whatever execution state slot had.
	DiscardContext(slot int)
}

// Cause says why a context switch happened.
type Cause uint8

const (
	CauseStart Cause = iota
	CauseYield
	CauseBlock
	CauseSleep
	CauseTick
	CauseFault
	CauseKill
	CauseExit
)

func (c Cause) String() string {
	switch c {
	case CauseStart:
		return "start"
	case CauseYield:
		return "yield"
	case CauseBlock:
		return "block"
	case CauseSleep:
		return "sleep"
	case CauseTick:
		return "tick"
	case CauseFault:
		return "fault"
	case CauseKill:
		return "kill"
	case CauseExit:
		return "exit"
	default:
		return "unknown"
	}
}
