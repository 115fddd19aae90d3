//go:build tinygo

package main

import (
	"context"

	"mpurtos/app"
	"mpurtos/hal"
)

func main() {
	h := hal.New()
	ctx := context.Background()
	go func() { _ = h.Console().Pump(ctx) }()
	_ = app.Run(ctx, h, app.DefaultConfig())
	select {}
}
