// Package mm manages the shared task memory pool.
//
// The pool is one contiguous address range cut into fixed-size blocks.
// Allocations are runs of whole blocks owned by a single task; every
// allocation or release also grows or shrinks the owner's access Mask
// so the protection unit can be reprogrammed from it.
package mm

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfMemory   = errors.New("mm: out of memory")
	ErrInvalidSize   = errors.New("mm: invalid allocation size")
	ErrInvalidLayout = errors.New("mm: invalid layout")
)

// Owner identifies the task that owns a block. NoOwner marks free blocks.
type Owner uint32

const NoOwner Owner = 0

// Layout describes the address geometry of the pool and of the access mask.
type Layout struct {
	// SRAMBase is the address of sub-region 0 of the access mask.
	SRAMBase uint32
	// HeapBase and HeapTop bound the pool; HeapTop is exclusive.
	HeapBase uint32
	HeapTop  uint32

	BlockSize     uint32
	SubregionSize uint32
}

// DefaultLayout is 28 KiB of 1 KiB blocks above a 4 KiB kernel area in 32 KiB of SRAM.
func DefaultLayout() Layout {
	return Layout{
		SRAMBase:      0x20000000,
		HeapBase:      0x20001000,
		HeapTop:       0x20008000,
		BlockSize:     0x400,
		SubregionSize: 0x400,
	}
}

func (l Layout) validate() error {
	switch {
	case l.BlockSize == 0 || l.SubregionSize == 0:
		return fmt.Errorf("%w: zero block or sub-region size", ErrInvalidLayout)
	case l.HeapTop <= l.HeapBase:
		return fmt.Errorf("%w: heap top %#x not above base %#x", ErrInvalidLayout, l.HeapTop, l.HeapBase)
	case l.HeapBase < l.SRAMBase:
		return fmt.Errorf("%w: heap below SRAM base", ErrInvalidLayout)
	case (l.HeapTop-l.HeapBase)%l.BlockSize != 0:
		return fmt.Errorf("%w: heap size not a multiple of block size", ErrInvalidLayout)
	case (l.HeapTop-l.HeapBase)/l.BlockSize > 0xFFFF:
		return fmt.Errorf("%w: too many blocks", ErrInvalidLayout)
	}
	return nil
}

type block struct {
	used  bool
	owner Owner
	// length is non-zero only on the first block of a run.
	length uint16
}

// Manager is the block table. It is not safe for concurrent use; the kernel
// serializes all calls.
type Manager struct {
	layout Layout
	blocks []block
}

// New creates a manager with every block free.
func New(l Layout) (*Manager, error) {
	if err := l.validate(); err != nil {
		return nil, err
	}
	n := (l.HeapTop - l.HeapBase) / l.BlockSize
	return &Manager{layout: l, blocks: make([]block, n)}, nil
}

// Layout returns the pool geometry.
func (m *Manager) Layout() Layout { return m.layout }

// Blocks returns the number of blocks in the pool.
func (m *Manager) Blocks() int { return len(m.blocks) }

func (m *Manager) address(i int) uint32 {
	return m.layout.HeapBase + uint32(i)*m.layout.BlockSize
}

func (m *Manager) index(addr uint32) (int, bool) {
	if addr < m.layout.HeapBase || addr >= m.layout.HeapTop {
		return 0, false
	}
	return int((addr - m.layout.HeapBase) / m.layout.BlockSize), true
}

// RunBlocks converts a byte count to a whole number of blocks.
func (m *Manager) RunBlocks(size uint32) int {
	if size == 0 {
		return 0
	}
	return int((uint64(size)-1)/uint64(m.layout.BlockSize) + 1)
}

// Allocate reserves the smallest free run that holds size bytes, tags it with
// owner and grants owner's mask the new range. It returns the lowest address
// of the run.
func (m *Manager) Allocate(size uint32, owner Owner, mask *Mask) (uint32, error) {
	if size == 0 || owner == NoOwner {
		return 0, ErrInvalidSize
	}
	need := m.RunBlocks(size)
	if need > len(m.blocks) {
		return 0, ErrOutOfMemory
	}

	best, bestLen := -1, 0
	for i := 0; i < len(m.blocks); {
		if m.blocks[i].used {
			i++
			continue
		}
		start := i
		for i < len(m.blocks) && !m.blocks[i].used {
			i++
		}
		n := i - start
		if n >= need && (best < 0 || n < bestLen) {
			best, bestLen = start, n
		}
	}
	if best < 0 {
		return 0, ErrOutOfMemory
	}

	for i := best; i < best+need; i++ {
		m.blocks[i] = block{used: true, owner: owner}
	}
	m.blocks[best].length = uint16(need)

	addr := m.address(best)
	m.layout.Grant(mask, addr, uint32(need)*m.layout.BlockSize)
	return addr, nil
}

// Free releases the run starting at addr if owner owns it. It reports whether
// anything was released.
func (m *Manager) Free(addr uint32, owner Owner, mask *Mask) bool {
	i, ok := m.index(addr)
	if !ok || owner == NoOwner {
		return false
	}
	b := m.blocks[i]
	if !b.used || b.owner != owner || b.length == 0 || addr != m.address(i) {
		return false
	}
	m.release(i, mask)
	return true
}

// ReclaimAll frees every run owned by owner and returns the number of runs released.
func (m *Manager) ReclaimAll(owner Owner, mask *Mask) int {
	if owner == NoOwner {
		return 0
	}
	n := 0
	for i := range m.blocks {
		b := m.blocks[i]
		if b.used && b.owner == owner && b.length > 0 {
			m.release(i, mask)
			n++
		}
	}
	return n
}

func (m *Manager) release(i int, mask *Mask) {
	owner := m.blocks[i].owner
	length := int(m.blocks[i].length)
	for j := i; j < i+length; j++ {
		m.blocks[j] = block{}
	}
	m.layout.Revoke(mask, m.address(i), uint32(length)*m.layout.BlockSize)

	// Outward rounding may have cleared a sub-region shared with another run
	// of the same owner.
	if m.layout.BlockSize < m.layout.SubregionSize {
		m.regrant(owner, mask)
	}
}

func (m *Manager) regrant(owner Owner, mask *Mask) {
	for i, b := range m.blocks {
		if b.used && b.owner == owner && b.length > 0 {
			m.layout.Grant(mask, m.address(i), uint32(b.length)*m.layout.BlockSize)
		}
	}
}

// OwnerOf returns the owner of the block containing addr, or NoOwner if the
// address is outside the pool or the block is free.
func (m *Manager) OwnerOf(addr uint32) Owner {
	i, ok := m.index(addr)
	if !ok || !m.blocks[i].used {
		return NoOwner
	}
	return m.blocks[i].owner
}

// Run describes one outstanding allocation.
type Run struct {
	Addr   uint32
	Blocks int
	Owner  Owner
}

// Runs lists outstanding allocations in address order.
func (m *Manager) Runs() []Run {
	var out []Run
	for i, b := range m.blocks {
		if b.used && b.length > 0 {
			out = append(out, Run{Addr: m.address(i), Blocks: int(b.length), Owner: b.owner})
		}
	}
	return out
}

// InUse returns the number of blocks currently allocated.
func (m *Manager) InUse() int {
	n := 0
	for _, b := range m.blocks {
		if b.used {
			n++
		}
	}
	return n
}

// Owned returns the number of blocks tagged with owner.
func (m *Manager) Owned(owner Owner) int {
	n := 0
	for _, b := range m.blocks {
		if b.used && b.owner == owner {
			n++
		}
	}
	return n
}
