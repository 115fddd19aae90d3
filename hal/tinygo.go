//go:build tinygo && baremetal

package hal

import (
	"machine"
)

type tinyGoHAL struct {
	logger  *uartLogger
	gpio    GPIO
	t       *tinyGoTime
	cycles  tinyGoCycles
	mpu     *SoftMPU
	bus     *MemoryBus
	console *UART
}

// New returns a Pico 2 (RP2350) HAL implementation.
//
// UART: UART0 on GP0 (TX) / GP1 (RX), 115200 8N1.
// LEDs: GP2..GP6 (blue, red, orange, yellow, green). Buttons: GP10..GP15, pulled down.
func New() HAL {
	uart := machine.UART0
	uart.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GP0,
		RX:       machine.GP1,
	})

	var pins []GPIOPin
	for i, p := range []machine.Pin{machine.GP2, machine.GP3, machine.GP4, machine.GP5, machine.GP6} {
		led := &machinePin{name: LEDNames[i], pin: p, out: true}
		mustConfigure(led, GPIOModeOutput, GPIOPullNone)
		pins = append(pins, led)
	}
	for i, p := range []machine.Pin{machine.GP10, machine.GP11, machine.GP12, machine.GP13, machine.GP14, machine.GP15} {
		pb := &machinePin{name: ButtonNames[i], pin: p}
		mustConfigure(pb, GPIOModeInput, GPIOPullDown)
		pins = append(pins, pb)
	}

	return &tinyGoHAL{
		logger:  &uartLogger{uart: uart},
		gpio:    newBoardPins(pins),
		t:       newTinyGoTime(),
		mpu:     NewMPU(),
		bus:     NewMemoryBus(),
		console: NewUART(&uartSerial{uart: uart}, 16),
	}
}

func (h *tinyGoHAL) Logger() Logger       { return h.logger }
func (h *tinyGoHAL) Console() *UART       { return h.console }
func (h *tinyGoHAL) GPIO() GPIO           { return h.gpio }
func (h *tinyGoHAL) Time() Time           { return h.t }
func (h *tinyGoHAL) Cycles() CycleCounter { return h.cycles }
func (h *tinyGoHAL) MPU() MPU             { return h.mpu }
func (h *tinyGoHAL) Bus() Bus             { return h.bus }
