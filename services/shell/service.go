package shell

import (
	"strings"

	"github.com/google/shlex"

	"mpurtos/hal"
	"mpurtos/kernel"
)

// MaxLine is the longest command line the editor accepts.
const MaxLine = 80

// Kernel is the set of services the shell reaches through traps.
// *kernel.Context implements it.
type Kernel interface {
	ReadInput() (byte, hal.UARTStatus, bool)
	Write(s string)
	Yield()

	Reboot()
	PS()
	IPCS()
	Kill(pid kernel.PID) kernel.Status
	PKill(name string) kernel.Status
	PI(on bool)
	Preempt(on bool)
	Sched(p kernel.Policy)
	PidOf(name string) (kernel.PID, kernel.Status)
	Run(name string) kernel.Status
}

type Service struct {
	reg  *registry
	line []byte
	// pendingCR swallows the LF of a CR LF pair.
	pendingCR bool
}

func New() *Service {
	s := &Service{reg: newRegistry()}
	if err := registerCommands(s.reg); err != nil {
		panic(err)
	}
	return s
}

// Task returns the shell as a task body.
func (s *Service) Task() kernel.TaskFunc {
	return func(c *kernel.Context) { s.Run(c) }
}

// Run reads and executes command lines forever.
func (s *Service) Run(k Kernel) {
	k.Write("\nmpurtos shell\nType `help`.\n\n")
	s.prompt(k)
	for {
		b, _, ok := k.ReadInput()
		if !ok {
			k.Yield()
			continue
		}
		if line, done := s.feed(k, b); done {
			s.exec(k, line)
			s.prompt(k)
		}
	}
}

// feed runs one received byte through the line editor. It reports a
// complete line when the byte ended one.
func (s *Service) feed(k Kernel, b byte) (string, bool) {
	cr := s.pendingCR
	s.pendingCR = false
	switch {
	case b == '\r':
		s.pendingCR = true
		return s.finish(k), true
	case b == '\n':
		if cr {
			return "", false
		}
		return s.finish(k), true
	case b == 0x08 || b == 0x7f:
		if len(s.line) > 0 {
			s.line = s.line[:len(s.line)-1]
			k.Write("\b \b")
		}
	case b >= 0x20 && b < 0x7f:
		s.line = append(s.line, b)
		k.Write(string(b))
		if len(s.line) >= MaxLine {
			return s.finish(k), true
		}
	}
	return "", false
}

func (s *Service) finish(k Kernel) string {
	k.Write("\n")
	line := string(s.line)
	s.line = s.line[:0]
	return line
}

func (s *Service) exec(k Kernel, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	args, err := shlex.Split(line)
	if err != nil || len(args) == 0 {
		k.Write("invalid command\n")
		return
	}
	cmd, ok := s.reg.resolve(args[0])
	if !ok {
		k.Write("invalid command\n")
		return
	}
	if err := cmd.Run(k, s, args[1:]); err != nil {
		k.Write(err.Error() + "\n")
	}
}

func (s *Service) prompt(k Kernel) {
	k.Write("> ")
}
