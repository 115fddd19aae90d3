// Package tasks is the demo task set the system boots with.
package tasks

import (
	"mpurtos/hal"
	"mpurtos/kernel"
)

// Mutex and semaphore indices as configured by Config.
const (
	Resource = 0

	KeyPressed  = 0
	KeyReleased = 1
	FlashReq    = 2
)

// Config returns the kernel configuration the demo set expects.
func Config() kernel.Config {
	cfg := kernel.DefaultConfig()
	cfg.Mutexes = 1
	cfg.Semaphores = []uint32{KeyPressed: 1, KeyReleased: 0, FlashReq: 5}
	return cfg
}

// Spec describes one task to register.
type Spec struct {
	Fn       kernel.TaskFunc
	Name     string
	Priority uint8
	Stack    uint32
}

// All returns the demo tasks in registration order. idle comes first so
// that a task is always ready.
func All() []Spec {
	return []Spec{
		{Idle, "idle", 7, 512},
		{LengthyFn, "lengthyFn", 6, 1024},
		{Flash4Hz, "flash4Hz", 4, 512},
		{Oneshot, "oneshot", 4, 1536},
		{ReadKeys, "readKeys", 6, 1024},
		{Debounce, "debounce", 6, 1024},
		{Important, "important", 0, 1024},
		{Uncooperative, "uncooperative", 6, 1024},
		{Errant, "errant", 6, 512},
	}
}

// Register adds specs to m.
func Register(m *kernel.Machine, specs []Spec) error {
	for _, s := range specs {
		if _, err := m.Register(s.Fn, s.Name, s.Priority, s.Stack); err != nil {
			return err
		}
	}
	return nil
}

// readButtons returns PB0..PB5 as bits 0..5.
func readButtons(c *kernel.Context) uint8 {
	var b uint8
	for i, name := range hal.ButtonNames {
		if c.ReadPin(name) {
			b |= 1 << i
		}
	}
	return b
}

// Idle keeps one task ready at all times.
func Idle(c *kernel.Context) {
	for {
		c.WritePin(hal.PinOrangeLED, true)
		c.Spin(1000)
		c.WritePin(hal.PinOrangeLED, false)
		c.Yield()
	}
}

func Flash4Hz(c *kernel.Context) {
	for {
		c.TogglePin(hal.PinGreenLED)
		c.Sleep(125)
	}
}

func Oneshot(c *kernel.Context) {
	for {
		c.Wait(FlashReq)
		c.WritePin(hal.PinYellowLED, true)
		c.Sleep(1000)
		c.WritePin(hal.PinYellowLED, false)
	}
}

func partOfLengthyFn(c *kernel.Context) {
	c.Spin(990)
	c.Yield()
}

// LengthyFn holds the resource mutex across a long computation.
func LengthyFn(c *kernel.Context) {
	for {
		c.Lock(Resource)
		for i := 0; i < 5000; i++ {
			partOfLengthyFn(c)
		}
		c.TogglePin(hal.PinRedLED)
		c.Unlock(Resource)
	}
}

// ReadKeys acts on a pushbutton press once the previous press was released.
func ReadKeys(c *kernel.Context) {
	for {
		c.Wait(KeyReleased)
		var buttons uint8
		for buttons == 0 {
			buttons = readButtons(c)
			c.Yield()
		}
		c.Post(KeyPressed)
		if buttons&1 != 0 {
			c.TogglePin(hal.PinYellowLED)
			c.WritePin(hal.PinRedLED, true)
		}
		if buttons&2 != 0 {
			c.Post(FlashReq)
			c.WritePin(hal.PinRedLED, false)
		}
		if buttons&4 != 0 {
			if pid, ok := c.Find("flash4Hz"); ok {
				c.RestartThread(pid)
			}
		}
		if buttons&8 != 0 {
			if pid, ok := c.Find("flash4Hz"); ok {
				c.KillThread(pid)
			}
		}
		if buttons&16 != 0 {
			if pid, ok := c.Find("lengthyFn"); ok {
				c.SetThreadPriority(pid, 4)
			}
		}
		c.Yield()
	}
}

// Debounce releases ReadKeys after the buttons read clear for 10 samples.
func Debounce(c *kernel.Context) {
	for {
		c.Wait(KeyPressed)
		count := 10
		for count != 0 {
			c.Sleep(10)
			if readButtons(c) == 0 {
				count--
			} else {
				count = 10
			}
		}
		c.Post(KeyReleased)
	}
}

// Uncooperative spins without yielding while PB3 alone is held.
func Uncooperative(c *kernel.Context) {
	for {
		for readButtons(c) == 8 {
		}
		c.Yield()
	}
}

// Errant writes kernel memory while PB5 alone is held.
func Errant(c *kernel.Context) {
	for {
		for readButtons(c) == 32 {
			c.Store32(hal.SRAMBase, 0)
		}
		c.Yield()
	}
}

func Important(c *kernel.Context) {
	for {
		c.Lock(Resource)
		c.WritePin(hal.PinBlueLED, true)
		c.Sleep(1000)
		c.WritePin(hal.PinBlueLED, false)
		c.Unlock(Resource)
	}
}
