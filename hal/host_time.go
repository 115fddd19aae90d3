//go:build !tinygo

package hal

import (
	"sync/atomic"
	"time"
)

// hostTime is the SysTick stand-in. Ticks that find the channel full are
// counted as missed rather than blocking the runner.
type hostTime struct {
	ch     chan uint64
	seq    uint64
	missed atomic.Uint64

	last time.Time
	acc  time.Duration
}

func newHostTime() *hostTime {
	return &hostTime{ch: make(chan uint64, 1024)}
}

func (t *hostTime) Ticks() <-chan uint64 { return t.ch }

// step raises as many ticks as wall-clock time has covered since the
// last call, at least one on the first call.
func (t *hostTime) step() {
	now := time.Now()
	if t.last.IsZero() {
		t.last = now
		t.acc = 0
		t.advance(1)
		return
	}

	t.acc += now.Sub(t.last)
	t.last = now

	const tickDur = time.Millisecond
	ticks := uint64(t.acc / tickDur)
	if ticks == 0 {
		return
	}
	t.acc = t.acc % tickDur
	t.advance(ticks)
}

// advance raises exactly n ticks.
func (t *hostTime) advance(n uint64) {
	for i := uint64(0); i < n; i++ {
		t.seq++
		select {
		case t.ch <- t.seq:
		default:
			t.missed.Add(1)
		}
	}
}
