//go:build !tinygo

package hal

import (
	"fmt"
	"os"
	"sync"
	"time"
)

type hostHAL struct {
	logger  *hostLogger
	gpio    GPIO
	buttons []*buttonPin
	t       *hostTime
	cycles  *hostCycles
	mpu     *SoftMPU
	bus     *MemoryBus
	console *UART
	closer  func() error
}

// HostConfig selects host console options.
type HostConfig struct {
	// TTY puts the controlling terminal in raw mode for the console.
	TTY bool
}

// New returns a host HAL implementation on stdin/stdout.
func New() HAL {
	return newHost(HostConfig{})
}

func newHost(cfg HostConfig) *hostHAL {
	logger := &hostLogger{w: os.Stdout}
	gpio, buttons := newBoardGPIO()

	var serial Serial = &hostSerial{r: os.Stdin, w: os.Stdout}
	var closer func() error
	if cfg.TTY {
		if s, err := openTTYSerial(); err == nil {
			serial = s
			closer = s.Close
		} else {
			logger.WriteLineString(fmt.Sprintf("hal: tty unavailable, using stdin: %v", err))
		}
	}

	return &hostHAL{
		logger:  logger,
		gpio:    gpio,
		buttons: buttons,
		t:       newHostTime(),
		cycles:  &hostCycles{t0: time.Now()},
		mpu:     NewMPU(),
		bus:     NewMemoryBus(),
		console: NewUART(serial, 256),
		closer:  closer,
	}
}

func (h *hostHAL) close() {
	if h.closer != nil {
		_ = h.closer()
	}
}

func (h *hostHAL) Logger() Logger       { return h.logger }
func (h *hostHAL) Console() *UART       { return h.console }
func (h *hostHAL) GPIO() GPIO           { return h.gpio }
func (h *hostHAL) Time() Time           { return h.t }
func (h *hostHAL) Cycles() CycleCounter { return h.cycles }
func (h *hostHAL) MPU() MPU             { return h.mpu }
func (h *hostHAL) Bus() Bus             { return h.bus }

type hostLogger struct {
	mu sync.Mutex
	w  *os.File
}

func (l *hostLogger) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
}

func (l *hostLogger) WriteLineBytes(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(b)
	l.w.Write([]byte{'\n'})
}

type hostCycles struct {
	t0 time.Time
}

func (c *hostCycles) Micros() uint64 {
	return uint64(time.Since(c.t0) / time.Microsecond)
}
