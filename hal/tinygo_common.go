//go:build tinygo && baremetal

package hal

import (
	"fmt"
	"machine"
	"time"
)

type tinyGoTime struct {
	ch  chan uint64
	seq uint64
}

func newTinyGoTime() *tinyGoTime {
	t := &tinyGoTime{ch: make(chan uint64, 16)}
	go func() {
		ticker := time.NewTicker(1 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			t.seq++
			select {
			case t.ch <- t.seq:
			default:
			}
		}
	}()
	return t
}

func (t *tinyGoTime) Ticks() <-chan uint64 { return t.ch }

var bootTime = time.Now()

type tinyGoCycles struct{}

func (tinyGoCycles) Micros() uint64 { return uint64(time.Since(bootTime) / time.Microsecond) }

type uartLogger struct {
	uart *machine.UART
}

func (l *uartLogger) WriteLineString(s string) {
	for i := 0; i < len(s); i++ {
		l.uart.WriteByte(s[i])
	}
	l.uart.WriteByte('\r')
	l.uart.WriteByte('\n')
}

func (l *uartLogger) WriteLineBytes(b []byte) {
	for i := 0; i < len(b); i++ {
		l.uart.WriteByte(b[i])
	}
	l.uart.WriteByte('\r')
	l.uart.WriteByte('\n')
}

type uartSerial struct {
	uart *machine.UART
}

// Read blocks until at least one byte arrives.
func (s *uartSerial) Read(p []byte) (int, error) {
	if s.uart == nil {
		return 0, ErrNotImplemented
	}
	for s.uart.Buffered() == 0 {
		time.Sleep(time.Millisecond)
	}
	return s.uart.Read(p)
}

func (s *uartSerial) Write(p []byte) (int, error) {
	if s.uart == nil {
		return 0, ErrNotImplemented
	}
	return s.uart.Write(p)
}

type machinePin struct {
	name string
	pin  machine.Pin
	out  bool
}

func (p *machinePin) Name() string { return p.name }

func (p *machinePin) Caps() GPIOCaps {
	if p.out {
		return GPIOCapOutput
	}
	return GPIOCapInput | GPIOCapPullDown
}

func (p *machinePin) Configure(mode GPIOMode, pull GPIOPull) error {
	if err := checkConfig(p.name, p.Caps(), mode, pull); err != nil {
		return err
	}
	cfg := machine.PinConfig{Mode: machine.PinInput}
	switch {
	case mode == GPIOModeOutput:
		cfg.Mode = machine.PinOutput
	case pull == GPIOPullDown:
		cfg.Mode = machine.PinInputPulldown
	}
	p.pin.Configure(cfg)
	return nil
}

func (p *machinePin) Read() (bool, error) { return p.pin.Get(), nil }

func (p *machinePin) Write(level bool) error {
	if !p.out {
		return fmt.Errorf("gpio: pin %s: output unsupported", p.name)
	}
	p.pin.Set(level)
	return nil
}
