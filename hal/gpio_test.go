package hal

import "testing"

func TestBoardGPIO(t *testing.T) {
	g, buttons := newBoardGPIO()
	if got, want := g.PinCount(), len(LEDNames)+len(ButtonNames); got != want {
		t.Fatalf("PinCount() = %d, want %d", got, want)
	}

	led := PinByName(g, PinGreenLED)
	if led == nil {
		t.Fatal("PinByName(GREEN) = nil")
	}
	if err := led.Write(true); err != nil {
		t.Fatalf("Write() err = %v", err)
	}
	if level, _ := led.Read(); !level {
		t.Fatal("LED level = false after Write(true)")
	}

	pb := PinByName(g, "PB3")
	if pb == nil {
		t.Fatal("PinByName(PB3) = nil")
	}
	if err := pb.Write(true); err == nil {
		t.Fatal("Write() on button err = nil")
	}
	buttons[3].Press(true)
	if level, _ := pb.Read(); !level {
		t.Fatal("button level = false after Press(true)")
	}
	if PinByName(g, "nope") != nil {
		t.Fatal("PinByName(nope) != nil")
	}
}

func TestNewBoard(t *testing.T) {
	g, buttons := NewBoard()
	if len(buttons) != len(ButtonNames) {
		t.Fatalf("len(buttons) = %d, want %d", len(buttons), len(ButtonNames))
	}
	buttons[5].Press(true)
	if level, _ := PinByName(g, "PB5").Read(); !level {
		t.Fatal("PB5 level = false after Press(true)")
	}
}

func TestConfigureChecksCaps(t *testing.T) {
	led := newLEDPin("RED")
	if err := led.Write(true); err == nil {
		t.Fatal("Write() before Configure() err = nil")
	}
	if err := led.Configure(GPIOModeInput, GPIOPullNone); err == nil {
		t.Fatal("Configure(input) on LED err = nil")
	}
	if err := led.Configure(GPIOModeOutput, GPIOPullDown); err == nil {
		t.Fatal("Configure(output, pull-down) on LED err = nil")
	}
	if err := led.Configure(GPIOModeOutput, GPIOPullNone); err != nil {
		t.Fatalf("Configure(output) err = %v", err)
	}
	if err := led.Write(true); err != nil {
		t.Fatalf("Write() err = %v", err)
	}

	pb := newButtonPin("PB0")
	if err := pb.Configure(GPIOModeOutput, GPIOPullNone); err == nil {
		t.Fatal("Configure(output) on button err = nil")
	}
	if err := pb.Configure(GPIOModeInput, GPIOPull(7)); err == nil {
		t.Fatal("Configure(bad pull) err = nil")
	}
	if err := pb.Configure(GPIOModeInput, GPIOPullDown); err != nil {
		t.Fatalf("Configure(input, pull-down) err = %v", err)
	}
}
