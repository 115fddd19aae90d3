package hal

import (
	"fmt"
	"sync"
)

// Access is the MPU access-permission (AP) field.
type Access uint8

const (
	AccessNone         Access = 0
	AccessPrivRW       Access = 1
	AccessPrivRWUserRO Access = 2
	AccessFullRW       Access = 3
	AccessPrivRO       Access = 5
	AccessRO           Access = 6
)

func (a Access) allows(privileged, write bool) bool {
	switch a {
	case AccessPrivRW:
		return privileged
	case AccessPrivRWUserRO:
		return privileged || !write
	case AccessFullRW:
		return true
	case AccessPrivRO:
		return privileged && !write
	case AccessRO, 7:
		return !write
	}
	return false
}

// MPURegion is one region descriptor.
type MPURegion struct {
	Base uint32
	// SizeLog2 is log2 of the region size in bytes (5..32).
	SizeLog2 uint8
	// SRD holds the sub-region disable bits; bit i disables the i-th eighth.
	SRD     uint8
	Access  Access
	XN      bool
	Enabled bool
}

func (r MPURegion) size() uint64 { return uint64(1) << r.SizeLog2 }

func (r MPURegion) contains(addr uint32) bool {
	return uint64(addr) >= uint64(r.Base) && uint64(addr) < uint64(r.Base)+r.size()
}

func (r MPURegion) subregionDisabled(addr uint32) bool {
	// Regions below 256 bytes have no sub-regions.
	if r.SizeLog2 < 8 {
		return false
	}
	sub := (uint64(addr) - uint64(r.Base)) / (r.size() / 8)
	return r.SRD&(1<<sub) != 0
}

// Fault status bits, as in MMFSR.
const (
	FaultIAccViol  uint8 = 1 << 0
	FaultDAccViol  uint8 = 1 << 1
	FaultMMARValid uint8 = 1 << 7
)

// MPUFault describes a denied access.
type MPUFault struct {
	Addr   uint32
	Status uint8
}

func (f MPUFault) String() string {
	return fmt.Sprintf("mpu fault at %#08x (mfaultstat %#02x)", f.Addr, f.Status)
}

// MPU programs protection regions and checks accesses against them.
type MPU interface {
	Regions() int
	SetRegion(n int, r MPURegion) error
	Region(n int) MPURegion
	// Enable turns protection on; privDefault keeps the default map for privileged code.
	Enable(privDefault bool)
	// Barrier completes outstanding region writes (dsb; isb).
	Barrier()
	// Check reports whether an access of size bytes at addr is allowed.
	Check(addr, size uint32, privileged, write bool) (MPUFault, bool)
}

const softMPURegions = 8

// SoftMPU evaluates ARMv7-M protection rules in software.
//
// Region writes are staged and only take effect at Barrier.
type SoftMPU struct {
	mu          sync.Mutex
	staged      [softMPURegions]MPURegion
	active      [softMPURegions]MPURegion
	enabled     bool
	privDefault bool
	barriers    uint64
}

// NewMPU returns a disabled software MPU with all regions off.
func NewMPU() *SoftMPU {
	return &SoftMPU{}
}

func (m *SoftMPU) Regions() int { return softMPURegions }

func (m *SoftMPU) SetRegion(n int, r MPURegion) error {
	if n < 0 || n >= softMPURegions {
		return fmt.Errorf("mpu: region %d out of range", n)
	}
	if r.SizeLog2 < 5 || r.SizeLog2 > 32 {
		return fmt.Errorf("mpu: region %d: invalid size 2^%d", n, r.SizeLog2)
	}
	if r.SizeLog2 < 32 && uint64(r.Base)%r.size() != 0 {
		return fmt.Errorf("mpu: region %d: base %#x not aligned to size", n, r.Base)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staged[n] = r
	return nil
}

func (m *SoftMPU) Region(n int) MPURegion {
	if n < 0 || n >= softMPURegions {
		return MPURegion{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[n]
}

func (m *SoftMPU) Enable(privDefault bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
	m.privDefault = privDefault
	m.active = m.staged
}

func (m *SoftMPU) Barrier() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = m.staged
	m.barriers++
}

// Barriers returns how many barriers have completed.
func (m *SoftMPU) Barriers() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.barriers
}

func (m *SoftMPU) Check(addr, size uint32, privileged, write bool) (MPUFault, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return MPUFault{}, true
	}
	if size == 0 {
		size = 1
	}
	last := uint64(addr) + uint64(size) - 1
	if last > 0xFFFFFFFF {
		return MPUFault{Addr: addr, Status: FaultDAccViol | FaultMMARValid}, false
	}
	for _, a := range []uint32{addr, uint32(last)} {
		if !m.allowedAt(a, privileged, write) {
			return MPUFault{Addr: a, Status: FaultDAccViol | FaultMMARValid}, false
		}
	}
	return MPUFault{}, true
}

func (m *SoftMPU) allowedAt(addr uint32, privileged, write bool) bool {
	for n := softMPURegions - 1; n >= 0; n-- {
		r := m.active[n]
		if !r.Enabled || !r.contains(addr) || r.subregionDisabled(addr) {
			continue
		}
		return r.Access.allows(privileged, write)
	}
	return privileged && m.privDefault
}

// Reset disables protection and clears every region.
func (m *SoftMPU) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staged = [softMPURegions]MPURegion{}
	m.active = m.staged
	m.enabled = false
	m.privDefault = false
}
