package hal

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// UARTStatus mirrors the UART flag and receive-status registers.
type UARTStatus struct {
	RxEmpty bool
	RxFull  bool
	TxFull  bool
	TxEmpty bool
	// Err counts receive overruns since the last poll.
	Err uint32
}

// UART turns a blocking Serial into a polled receive FIFO.
type UART struct {
	s  Serial
	rx chan byte

	wmu      sync.Mutex
	overruns atomic.Uint32
}

// NewUART wraps s with a receive FIFO of fifo bytes.
func NewUART(s Serial, fifo int) *UART {
	if fifo <= 0 {
		fifo = 16
	}
	return &UART{s: s, rx: make(chan byte, fifo)}
}

// Pump moves received bytes into the FIFO until ctx is done or the
// underlying reader fails. EOF is not an error.
func (u *UART) Pump(ctx context.Context) error {
	if u.s == nil {
		<-ctx.Done()
		return nil
	}
	errc := make(chan error, 1)
	go func() {
		buf := make([]byte, 64)
		for {
			n, err := u.s.Read(buf)
			for _, b := range buf[:n] {
				select {
				case u.rx <- b:
				default:
					u.overruns.Add(1)
				}
			}
			if err != nil {
				errc <- err
				return
			}
		}
	}()
	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
}

// Inject queues b as if it had been received. It reports false on overrun.
func (u *UART) Inject(b []byte) bool {
	for _, c := range b {
		select {
		case u.rx <- c:
		default:
			u.overruns.Add(1)
			return false
		}
	}
	return true
}

// Poll pops one received byte. ok is false when the FIFO was empty.
func (u *UART) Poll() (b byte, st UARTStatus, ok bool) {
	st = UARTStatus{TxEmpty: true, Err: u.overruns.Swap(0)}
	select {
	case b = <-u.rx:
		ok = true
	default:
	}
	n := len(u.rx)
	st.RxEmpty = n == 0
	st.RxFull = n == cap(u.rx)
	return b, st, ok
}

func (u *UART) Write(p []byte) (int, error) {
	if u.s == nil {
		return 0, ErrNotImplemented
	}
	u.wmu.Lock()
	defer u.wmu.Unlock()
	return u.s.Write(p)
}
