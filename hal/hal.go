package hal

import (
	"errors"
	"io"
)

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

var ErrNotImplemented = errors.New("not implemented")

// Serial is a raw byte stream to the operator console.
type Serial interface {
	io.Reader
	io.Writer
}

// Time provides a base tick stream.
//
// The tick duration is 1ms on every platform.
type Time interface {
	Ticks() <-chan uint64
}

// CycleCounter is a free-running microsecond counter.
type CycleCounter interface {
	Micros() uint64
}

// HAL provides the only contact point between the kernel and the outside world.
type HAL interface {
	Logger() Logger
	Console() *UART
	GPIO() GPIO
	Time() Time
	Cycles() CycleCounter
	MPU() MPU
	Bus() Bus
}
