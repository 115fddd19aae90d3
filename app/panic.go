package app

import (
	"fmt"
	"strings"

	"mpurtos/hal"
	"mpurtos/kernel"
)

func installFatalHandler(h hal.HAL) {
	kernel.SetFatalHandler(func(info kernel.FatalInfo) {
		l := h.Logger()
		if l == nil {
			return
		}
		if info.Name != "" {
			l.WriteLineString(fmt.Sprintf("mpurtos halted: task=%d (%s) reason=%s", info.PID, info.Name, info.Reason))
		} else {
			l.WriteLineString("mpurtos halted: " + info.Reason)
		}
		if len(info.Stack) == 0 {
			return
		}
		for _, line := range strings.Split(string(info.Stack), "\n") {
			if line == "" {
				continue
			}
			l.WriteLineString(line)
		}
	})
}
