// Package panel provides the collaborators a display pipe uses around its
// output: GPIO lines and backlight for power sequencing, and sources that
// report whether a panel is attached and what timing or EDID it has.
package panel

import (
	"time"

	"periph.io/x/conn/v3/gpio"
)

// GPIO drives the panel power and reset lines.
type GPIO interface {
	// Configure makes line id an output at its inactive level and waits
	// settle before returning.
	Configure(id string, active gpio.Level, settle time.Duration) error
	// Set drives line id to level.
	Set(id string, level gpio.Level) error
	// Lines returns the lines this controller has configured.
	Lines() []string
}

// Backlight switches the panel backlight.
type Backlight interface {
	SetPower(on bool) error
	Name() string
}
