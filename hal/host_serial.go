//go:build !tinygo

package hal

import (
	"os"
	"sync"

	"github.com/mattn/go-tty"
)

type hostSerial struct {
	mu sync.Mutex
	r  *os.File
	w  *os.File
}

func (s *hostSerial) Read(p []byte) (int, error) {
	if s.r == nil {
		return 0, ErrNotImplemented
	}
	return s.r.Read(p)
}

func (s *hostSerial) Write(p []byte) (int, error) {
	if s.w == nil {
		return 0, ErrNotImplemented
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// ttySerial reads the terminal one rune at a time with echo and line
// buffering off, the way a UART sees keystrokes.
type ttySerial struct {
	mu sync.Mutex
	t  *tty.TTY
}

func openTTYSerial() (*ttySerial, error) {
	t, err := tty.Open()
	if err != nil {
		return nil, err
	}
	return &ttySerial{t: t}, nil
}

func (s *ttySerial) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	r, err := s.t.ReadRune()
	if err != nil {
		return 0, err
	}
	if r > 0x7F {
		r = '?'
	}
	p[0] = byte(r)
	return 1, nil
}

func (s *ttySerial) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Raw mode: the terminal no longer maps \n to \r\n.
	out := make([]byte, 0, len(p)+8)
	for _, b := range p {
		if b == '\n' {
			out = append(out, '\r')
		}
		out = append(out, b)
	}
	if _, err := s.t.Output().Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *ttySerial) Close() error {
	return s.t.Close()
}
