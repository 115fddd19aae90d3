package hal

import (
	"fmt"
	"sync"
)

// GPIOMode selects whether a pin is an input or output.
type GPIOMode uint8

const (
	GPIOModeInput GPIOMode = iota
	GPIOModeOutput
)

// GPIOPull selects the pull resistor. The board only wires pull-downs.
type GPIOPull uint8

const (
	GPIOPullNone GPIOPull = iota
	GPIOPullDown
)

// GPIOCaps declares what a pin supports.
type GPIOCaps uint8

const (
	GPIOCapInput GPIOCaps = 1 << iota
	GPIOCapOutput
	GPIOCapPullDown
)

// GPIO is the board's pin bank: LEDs first, then pushbuttons.
type GPIO interface {
	PinCount() int
	Pin(id int) GPIOPin
}

// GPIOPin is a single digital pin.
type GPIOPin interface {
	Name() string
	Caps() GPIOCaps
	Configure(mode GPIOMode, pull GPIOPull) error
	Read() (level bool, err error)
	Write(level bool) error
}

type boardGPIO struct {
	pins []GPIOPin
}

func newBoardPins(pins []GPIOPin) *boardGPIO {
	return &boardGPIO{pins: pins}
}

func (g *boardGPIO) PinCount() int { return len(g.pins) }

func (g *boardGPIO) Pin(id int) GPIOPin {
	if id < 0 || id >= len(g.pins) {
		return nil
	}
	return g.pins[id]
}

func checkConfig(name string, caps GPIOCaps, mode GPIOMode, pull GPIOPull) error {
	switch {
	case mode == GPIOModeInput && caps&GPIOCapInput == 0:
		return fmt.Errorf("gpio: pin %s: input unsupported", name)
	case mode == GPIOModeOutput && caps&GPIOCapOutput == 0:
		return fmt.Errorf("gpio: pin %s: output unsupported", name)
	case mode > GPIOModeOutput:
		return fmt.Errorf("gpio: pin %s: invalid mode", name)
	case pull == GPIOPullDown && caps&GPIOCapPullDown == 0:
		return fmt.Errorf("gpio: pin %s: pull-down unsupported", name)
	case pull > GPIOPullDown:
		return fmt.Errorf("gpio: pin %s: invalid pull", name)
	}
	return nil
}

// ledPin is an LED output. It reads back the level last written and
// refuses writes until configured as an output.
type ledPin struct {
	mu         sync.Mutex
	name       string
	configured bool
	lit        bool
}

func newLEDPin(name string) *ledPin { return &ledPin{name: name} }

func (p *ledPin) Name() string   { return p.name }
func (p *ledPin) Caps() GPIOCaps { return GPIOCapOutput }

// Configure switches the LED off.
func (p *ledPin) Configure(mode GPIOMode, pull GPIOPull) error {
	if err := checkConfig(p.name, p.Caps(), mode, pull); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configured = true
	p.lit = false
	return nil
}

func (p *ledPin) Read() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lit, nil
}

func (p *ledPin) Write(level bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.configured {
		return fmt.Errorf("gpio: pin %s: not configured", p.name)
	}
	p.lit = level
	return nil
}

// buttonPin is an input whose level is driven from outside the kernel
// (a window key on the host).
type buttonPin struct {
	mu      sync.Mutex
	name    string
	pull    GPIOPull
	pressed bool
}

func newButtonPin(name string) *buttonPin { return &buttonPin{name: name} }

func (p *buttonPin) Name() string   { return p.name }
func (p *buttonPin) Caps() GPIOCaps { return GPIOCapInput | GPIOCapPullDown }

func (p *buttonPin) Configure(mode GPIOMode, pull GPIOPull) error {
	if err := checkConfig(p.name, p.Caps(), mode, pull); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pull = pull
	return nil
}

func (p *buttonPin) Read() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pressed, nil
}

func (p *buttonPin) Write(bool) error {
	return fmt.Errorf("gpio: pin %s: output unsupported", p.name)
}

// Press drives the button level.
func (p *buttonPin) Press(down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pressed = down
}

// Board pin names.
const (
	PinBlueLED   = "BLUE"
	PinRedLED    = "RED"
	PinOrangeLED = "ORANGE"
	PinYellowLED = "YELLOW"
	PinGreenLED  = "GREEN"
)

// LEDNames lists the LED outputs in board order.
var LEDNames = []string{PinBlueLED, PinRedLED, PinOrangeLED, PinYellowLED, PinGreenLED}

// ButtonNames lists the pushbutton inputs PB0..PB5.
var ButtonNames = []string{"PB0", "PB1", "PB2", "PB3", "PB4", "PB5"}

// newBoardGPIO returns the virtual board: LED outputs then pushbuttons.
func newBoardGPIO() (GPIO, []*buttonPin) {
	var pins []GPIOPin
	for _, name := range LEDNames {
		p := newLEDPin(name)
		mustConfigure(p, GPIOModeOutput, GPIOPullNone)
		pins = append(pins, p)
	}
	var buttons []*buttonPin
	for _, name := range ButtonNames {
		b := newButtonPin(name)
		mustConfigure(b, GPIOModeInput, GPIOPullDown)
		buttons = append(buttons, b)
		pins = append(pins, b)
	}
	return newBoardPins(pins), buttons
}

// mustConfigure applies the fixed board layout; an error is a wiring bug.
func mustConfigure(p GPIOPin, mode GPIOMode, pull GPIOPull) {
	if err := p.Configure(mode, pull); err != nil {
		panic(err)
	}
}

// Button is a pushbutton whose level is set from outside the kernel.
type Button interface {
	Press(down bool)
}

// NewBoard returns a virtual board GPIO and its pushbuttons PB0..PB5.
func NewBoard() (GPIO, []Button) {
	g, pins := newBoardGPIO()
	buttons := make([]Button, len(pins))
	for i, p := range pins {
		buttons[i] = p
	}
	return g, buttons
}

// PinByName finds a pin by name, or returns nil.
func PinByName(g GPIO, name string) GPIOPin {
	if g == nil {
		return nil
	}
	for i := 0; i < g.PinCount(); i++ {
		if p := g.Pin(i); p != nil && p.Name() == name {
			return p
		}
	}
	return nil
}
