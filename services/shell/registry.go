package shell

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

type cmdFunc func(k Kernel, s *Service, args []string) error

type command struct {
	Name  string
	Usage string
	Desc  string
	// Args is the exact number of arguments, or -1 for any.
	Args int
	Run  cmdFunc
}

type registry struct {
	cmds map[string]command
}

func newRegistry() *registry {
	return &registry{cmds: make(map[string]command)}
}

func (r *registry) register(cmd command) error {
	cmd.Name = strings.TrimSpace(cmd.Name)
	if cmd.Name == "" {
		return fmt.Errorf("shell registry: empty command name")
	}
	if cmd.Run == nil {
		return fmt.Errorf("shell registry: %q has no handler", cmd.Name)
	}
	if _, ok := r.cmds[cmd.Name]; ok {
		return fmt.Errorf("shell registry: duplicate command %q", cmd.Name)
	}
	if cmd.Args >= 0 {
		run, want := cmd.Run, cmd.Args
		usage := cmd.Usage
		cmd.Run = func(k Kernel, s *Service, args []string) error {
			if len(args) != want || slices.Contains(args, "") {
				return fmt.Errorf("usage: %s", usage)
			}
			return run(k, s, args)
		}
	}
	r.cmds[cmd.Name] = cmd
	return nil
}

func (r *registry) resolve(name string) (command, bool) {
	cmd, ok := r.cmds[strings.TrimSpace(name)]
	return cmd, ok
}

func (r *registry) names() []string {
	out := make([]string, 0, len(r.cmds))
	for name := range r.cmds {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
