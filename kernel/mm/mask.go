package mm

// Mask records which sub-regions of the SRAM window a task may access.
//
// Bit i grants access to the i-th SubregionSize bytes above Layout.SRAMBase.
// The zero Mask denies the whole window.
type Mask uint64

// NoAccess denies every sub-region.
const NoAccess Mask = 0

const maskBits = 64

// Allows reports whether sub-region i is granted.
func (m Mask) Allows(i int) bool {
	if i < 0 || i >= maskBits {
		return false
	}
	return m&(1<<uint(i)) != 0
}

// Byte returns the 8 sub-region bits belonging to MPU region r.
func (m Mask) Byte(r int) uint8 {
	if r < 0 || r >= maskBits/8 {
		return 0
	}
	return uint8(m >> (uint(r) * 8))
}

// span returns the sub-region indices touched by [addr, addr+size), rounded outward.
func (l Layout) span(addr, size uint32) (first, last int, ok bool) {
	if size == 0 || addr < l.SRAMBase {
		return 0, 0, false
	}
	end := uint64(addr) + uint64(size) - 1
	first = int((addr - l.SRAMBase) / l.SubregionSize)
	last = int((end - uint64(l.SRAMBase)) / uint64(l.SubregionSize))
	if first >= maskBits {
		return 0, 0, false
	}
	if last >= maskBits {
		last = maskBits - 1
	}
	return first, last, true
}

// Grant sets the bits covering [addr, addr+size).
func (l Layout) Grant(m *Mask, addr, size uint32) {
	first, last, ok := l.span(addr, size)
	if !ok || m == nil {
		return
	}
	for i := first; i <= last; i++ {
		*m |= 1 << uint(i)
	}
}

// Revoke clears the bits covering [addr, addr+size).
func (l Layout) Revoke(m *Mask, addr, size uint32) {
	first, last, ok := l.span(addr, size)
	if !ok || m == nil {
		return
	}
	for i := first; i <= last; i++ {
		*m &^= 1 << uint(i)
	}
}
