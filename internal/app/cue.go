package app

import (
	"context"
	"fmt"
	"log"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/glove_capture/internal/capture"
)

// levelOut is the part of a GPIO pin the cue drives.
type levelOut interface {
	Out(l gpio.Level) error
}

// Cue mirrors the grasp/release phase on a GPIO pin: high while the
// operator should grasp, low otherwise.
type Cue struct {
	pin   levelOut
	level gpio.Level
	set   bool
}

// NewCue opens the named GPIO pin, e.g. "GPIO17".
func NewCue(pinName string) (*Cue, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("cue: periph host init: %w", err)
	}
	p := gpioreg.ByName(pinName)
	if p == nil {
		return nil, fmt.Errorf("cue: pin %q not found", pinName)
	}
	log.Printf("cue: driving %s", p.Name())
	return &Cue{pin: p}, nil
}

// Run follows updates until ctx is done or the channel closes, then drives
// the pin low.
func (c *Cue) Run(ctx context.Context, updates <-chan capture.Update) {
	defer c.apply(gpio.Low)
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			c.apply(cueLevel(u))
		}
	}
}

func (c *Cue) apply(l gpio.Level) {
	if c.set && c.level == l {
		return
	}
	if err := c.pin.Out(l); err != nil {
		log.Printf("cue: set %s: %v", l, err)
		return
	}
	c.level, c.set = l, true
}

func cueLevel(u capture.Update) gpio.Level {
	if u.State == capture.Active && u.Phase == capture.Grasp {
		return gpio.High
	}
	return gpio.Low
}
