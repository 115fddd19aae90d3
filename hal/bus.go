package hal

import (
	"errors"
	"fmt"
	"sync"
)

var ErrBusFault = errors.New("bus fault")

// Bus is the system memory bus.
type Bus interface {
	Load(addr uint32, p []byte) error
	Store(addr uint32, p []byte) error
}

// Memory map of the simulated part.
const (
	FlashBase      uint32 = 0x00000000
	FlashSize      uint32 = 256 << 10
	SRAMBase       uint32 = 0x20000000
	SRAMSize       uint32 = 32 << 10
	PeripheralBase uint32 = 0x40000000
	PeripheralSize uint32 = 64 << 20
)

// MemoryBus backs SRAM with a byte slice. Flash reads as zero and is not
// writable; the peripheral window accepts and discards accesses.
type MemoryBus struct {
	mu   sync.Mutex
	sram []byte
}

// NewMemoryBus returns a bus with zeroed SRAM.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{sram: make([]byte, SRAMSize)}
}

func inWindow(addr uint32, n int, base, size uint32) bool {
	end := uint64(addr) + uint64(n)
	return addr >= base && end <= uint64(base)+uint64(size)
}

func (b *MemoryBus) Load(addr uint32, p []byte) error {
	switch {
	case inWindow(addr, len(p), SRAMBase, SRAMSize):
		b.mu.Lock()
		defer b.mu.Unlock()
		off := addr - SRAMBase
		copy(p, b.sram[off:off+uint32(len(p))])
		return nil
	case inWindow(addr, len(p), FlashBase, FlashSize),
		inWindow(addr, len(p), PeripheralBase, PeripheralSize):
		for i := range p {
			p[i] = 0
		}
		return nil
	}
	return fmt.Errorf("%w: load %d bytes at %#08x", ErrBusFault, len(p), addr)
}

func (b *MemoryBus) Store(addr uint32, p []byte) error {
	switch {
	case inWindow(addr, len(p), SRAMBase, SRAMSize):
		b.mu.Lock()
		defer b.mu.Unlock()
		off := addr - SRAMBase
		copy(b.sram[off:off+uint32(len(p))], p)
		return nil
	case inWindow(addr, len(p), PeripheralBase, PeripheralSize):
		return nil
	}
	return fmt.Errorf("%w: store %d bytes at %#08x", ErrBusFault, len(p), addr)
}

// Reset zeroes SRAM.
func (b *MemoryBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.sram)
}
