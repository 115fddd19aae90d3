package shell

import (
	"errors"
	"fmt"
	"strconv"

	"mpurtos/internal/buildinfo"
	"mpurtos/kernel"
)

func registerCommands(r *registry) error {
	for _, cmd := range []command{
		{Name: "help", Usage: "help [command]", Desc: "Show available commands.", Args: -1, Run: cmdHelp},
		{Name: "version", Usage: "version", Desc: "Show build version.", Run: cmdVersion},
		{Name: "reboot", Usage: "reboot", Desc: "Restart the system.", Run: cmdReboot},
		{Name: "ps", Usage: "ps", Desc: "List tasks and their CPU use.", Run: cmdPS},
		{Name: "ipcs", Usage: "ipcs", Desc: "Show mutexes and semaphores.", Run: cmdIPCS},
		{Name: "kill", Usage: "kill <pid>", Desc: "Kill a task by PID.", Args: 1, Run: cmdKill},
		{Name: "pkill", Usage: "pkill <name>", Desc: "Kill a task by name.", Args: 1, Run: cmdPKill},
		{Name: "pi", Usage: "pi on|off", Desc: "Toggle priority inheritance.", Args: 1, Run: cmdPI},
		{Name: "preempt", Usage: "preempt on|off", Desc: "Toggle preemption.", Args: 1, Run: cmdPreempt},
		{Name: "sched", Usage: "sched prio|rr", Desc: "Select the scheduling policy.", Args: 1, Run: cmdSched},
		{Name: "pidof", Usage: "pidof <name>", Desc: "Print the PID of a task.", Args: 1, Run: cmdPidOf},
		{Name: "run", Usage: "run <name>", Desc: "Restart a killed task.", Args: 1, Run: cmdRun},
	} {
		if err := r.register(cmd); err != nil {
			return err
		}
	}
	return nil
}

func cmdHelp(k Kernel, s *Service, args []string) error {
	if len(args) == 0 {
		for _, name := range s.reg.names() {
			cmd, _ := s.reg.resolve(name)
			k.Write(fmt.Sprintf("%-10s %s\n", cmd.Name, cmd.Desc))
		}
		return nil
	}
	if len(args) != 1 {
		return errors.New("usage: help [command]")
	}
	cmd, ok := s.reg.resolve(args[0])
	if !ok {
		return fmt.Errorf("unknown command: %s", args[0])
	}
	k.Write("usage: " + cmd.Usage + "\n" + cmd.Desc + "\n")
	return nil
}

func cmdVersion(k Kernel, _ *Service, _ []string) error {
	k.Write(fmt.Sprintf("mpurtos %s (commit %s, built %s)\n", buildinfo.Short(), buildinfo.Commit, buildinfo.Date))
	return nil
}

func cmdReboot(k Kernel, _ *Service, _ []string) error {
	k.Reboot()
	return nil
}

func cmdPS(k Kernel, _ *Service, _ []string) error {
	k.PS()
	return nil
}

func cmdIPCS(k Kernel, _ *Service, _ []string) error {
	k.IPCS()
	return nil
}

func cmdKill(k Kernel, _ *Service, args []string) error {
	pid, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("kill: bad pid %q", args[0])
	}
	k.Kill(kernel.PID(pid))
	return nil
}

func cmdPKill(k Kernel, _ *Service, args []string) error {
	k.PKill(args[0])
	return nil
}

func onOff(arg, usage string) (bool, error) {
	switch arg {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("usage: %s", usage)
}

func cmdPI(k Kernel, _ *Service, args []string) error {
	on, err := onOff(args[0], "pi on|off")
	if err != nil {
		return err
	}
	k.PI(on)
	return nil
}

func cmdPreempt(k Kernel, _ *Service, args []string) error {
	on, err := onOff(args[0], "preempt on|off")
	if err != nil {
		return err
	}
	k.Preempt(on)
	return nil
}

func cmdSched(k Kernel, _ *Service, args []string) error {
	p, ok := kernel.ParsePolicy(args[0])
	if !ok {
		return errors.New("usage: sched prio|rr")
	}
	k.Sched(p)
	return nil
}

func cmdPidOf(k Kernel, _ *Service, args []string) error {
	k.PidOf(args[0])
	return nil
}

func cmdRun(k Kernel, _ *Service, args []string) error {
	k.Run(args[0])
	return nil
}
