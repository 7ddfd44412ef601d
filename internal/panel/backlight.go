package panel

import (
	"fmt"
	"os"
	"path/filepath"

	"periph.io/x/conn/v3/gpio"
)

const sysfsBacklightPath = "/sys/class/backlight"

// Values of the sysfs bl_power attribute.
const (
	blPowerOn  = "0"
	blPowerOff = "4"
)

// sysfsBacklight switches a backlight through the Linux backlight class.
type sysfsBacklight struct {
	root string
	name string
}

func newSysfsBacklight(root, name string) *sysfsBacklight {
	if root == "" {
		root = sysfsBacklightPath
	}
	return &sysfsBacklight{root: root, name: name}
}

func (s *sysfsBacklight) SetPower(on bool) error {
	dir := filepath.Join(s.root, s.name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("backlight %q not found at %s", s.name, dir)
	}

	value := blPowerOff
	if on {
		value = blPowerOn
	}
	if err := os.WriteFile(filepath.Join(dir, "bl_power"), []byte(value), 0644); err != nil {
		return fmt.Errorf("failed to set backlight power: %w", err)
	}
	return nil
}

func (s *sysfsBacklight) Name() string { return s.name }

// gpioBacklight switches a backlight enable line.
type gpioBacklight struct {
	gpio   GPIO
	line   string
	active gpio.Level
}

func (g *gpioBacklight) SetPower(on bool) error {
	level := !g.active
	if on {
		level = g.active
	}
	return g.gpio.Set(g.line, level)
}

func (g *gpioBacklight) Name() string { return "gpio:" + g.line }
