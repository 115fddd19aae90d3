package kernel

import (
	"fmt"

	"mpurtos/hal"
	"mpurtos/kernel/mm"
)

// Boot-time MPU region numbers. Higher numbers win where regions overlap.
const (
	RegionBackground = 0
	RegionTaskFirst  = 1
	RegionTaskCount  = 4
	RegionFlash      = 5
	RegionPeripheral = 6
	RegionKernel     = 7
)

// taskRegionLog2 is the size of each task window region: eight sub-regions
// of one mask bit each.
func (k *Kernel) taskRegionLog2() uint8 {
	return log2(k.cfg.Layout.SubregionSize * 8)
}

func log2(v uint32) uint8 {
	var n uint8
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}

// configureMPU installs the fixed boot map and enables protection with the
// default map kept for privileged code.
func (k *Kernel) configureMPU() error {
	l := k.cfg.Layout
	sramLog2 := log2(hal.SRAMSize)
	regions := map[int]hal.MPURegion{
		RegionBackground: {Base: l.SRAMBase, SizeLog2: sramLog2, Access: hal.AccessPrivRW, XN: true, Enabled: true},
		RegionFlash:      {Base: hal.FlashBase, SizeLog2: log2(hal.FlashSize), Access: hal.AccessPrivRWUserRO, Enabled: true},
		RegionPeripheral: {Base: hal.PeripheralBase, SizeLog2: log2(hal.PeripheralSize), Access: hal.AccessFullRW, XN: true, Enabled: true},
		RegionKernel:     {Base: l.SRAMBase, SizeLog2: log2(l.HeapBase - l.SRAMBase), Access: hal.AccessPrivRW, XN: true, Enabled: true},
	}
	size := uint32(1) << k.taskRegionLog2()
	for r := 0; r < RegionTaskCount; r++ {
		regions[RegionTaskFirst+r] = hal.MPURegion{
			Base:     l.SRAMBase + uint32(r)*size,
			SizeLog2: k.taskRegionLog2(),
			SRD:      0xFF,
			Access:   hal.AccessFullRW,
			XN:       true,
			Enabled:  true,
		}
	}
	for n := 0; n < k.mpu.Regions(); n++ {
		r, ok := regions[n]
		if !ok {
			continue
		}
		if err := k.mpu.SetRegion(n, r); err != nil {
			return fmt.Errorf("kernel: boot mpu: %w", err)
		}
	}
	k.mpu.Enable(true)
	return nil
}

// installMask loads a task's access mask into the sub-region disable bits
// of the task window regions. It returns after the barrier.
func (k *Kernel) installMask(m mm.Mask) {
	for r := 0; r < RegionTaskCount; r++ {
		reg := k.mpu.Region(RegionTaskFirst + r)
		reg.SRD = ^m.Byte(r)
		_ = k.mpu.SetRegion(RegionTaskFirst+r, reg)
	}
	k.mpu.Barrier()
}
