//go:build !tinygo && cgo

package hal

import (
	"context"
	"errors"
	"image/color"

	"mpurtos/internal/buildinfo"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"golang.org/x/sync/errgroup"
)

const (
	panelWidth  = 320
	panelHeight = 120
)

var ledColors = map[string]color.RGBA{
	PinBlueLED:   {R: 0x30, G: 0x60, B: 0xFF, A: 0xFF},
	PinRedLED:    {R: 0xFF, G: 0x20, B: 0x20, A: 0xFF},
	PinOrangeLED: {R: 0xFF, G: 0x90, B: 0x10, A: 0xFF},
	PinYellowLED: {R: 0xFF, G: 0xE0, B: 0x20, A: 0xFF},
	PinGreenLED:  {R: 0x20, G: 0xE0, B: 0x40, A: 0xFF},
}

var buttonKeys = []ebiten.Key{ebiten.Key1, ebiten.Key2, ebiten.Key3, ebiten.Key4, ebiten.Key5, ebiten.Key6}

// RunWindow opens a board panel: LEDs are drawn from the GPIO outputs and
// keys 1-6 hold pushbuttons PB0-PB5. It blocks until the window closes or
// the OS stops.
func RunWindow(ctx context.Context, run System, cfg HeadlessConfig) error {
	h := newHost(HostConfig{TTY: cfg.TTY})
	defer h.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.console.Pump(gctx) })
	g.Go(func() error {
		defer cancel()
		return run(gctx, h)
	})

	game := &hostGame{h: h, done: gctx.Done()}
	ebiten.SetWindowTitle("mpurtos (" + buildinfo.Short() + ")")
	ebiten.SetWindowSize(panelWidth*2, panelHeight*2)
	ebiten.SetTPS(60)
	err := ebiten.RunGame(game)
	cancel()
	if werr := g.Wait(); werr != nil {
		return werr
	}
	if errors.Is(err, ebiten.Termination) {
		return nil
	}
	return err
}

type hostGame struct {
	h    *hostHAL
	done <-chan struct{}
}

func (g *hostGame) Update() error {
	select {
	case <-g.done:
		return ebiten.Termination
	default:
	}
	for i, b := range g.h.buttons {
		if i < len(buttonKeys) {
			b.Press(ebiten.IsKeyPressed(buttonKeys[i]))
		}
	}
	g.h.t.step()
	return nil
}

func (g *hostGame) Draw(screen *ebiten.Image) {
	screen.Fill(color.RGBA{R: 0x10, G: 0x10, B: 0x14, A: 0xFF})

	for i, name := range LEDNames {
		x := float32(32 + i*64)
		c := ledColors[name]
		if p := PinByName(g.h.gpio, name); p != nil {
			if on, _ := p.Read(); !on {
				c = color.RGBA{R: c.R / 5, G: c.G / 5, B: c.B / 5, A: 0xFF}
			}
		}
		vector.DrawFilledCircle(screen, x, 36, 16, c, true)
		ebitenutil.DebugPrintAt(screen, name, int(x)-16, 58)
	}

	for i, b := range g.h.buttons {
		x := float32(16 + i*50)
		c := color.RGBA{R: 0x50, G: 0x50, B: 0x58, A: 0xFF}
		if down, _ := b.Read(); down {
			c = color.RGBA{R: 0xE0, G: 0xE0, B: 0xE0, A: 0xFF}
		}
		vector.DrawFilledRect(screen, x, 82, 36, 24, c, false)
		ebitenutil.DebugPrintAt(screen, b.Name(), int(x)+6, 86)
	}
}

func (g *hostGame) Layout(outsideWidth, outsideHeight int) (int, int) {
	return panelWidth, panelHeight
}
