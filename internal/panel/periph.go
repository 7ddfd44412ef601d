package panel

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

var hostInit = sync.OnceValue(func() error {
	_, err := host.Init()
	return err
})

// PeriphGPIO drives lines registered with periph.io, addressed by name
// (e.g. "GPIO17" or a board header alias).
type PeriphGPIO struct {
	lookup func(string) gpio.PinIO
	logger *slog.Logger

	mu    sync.Mutex
	pins  map[string]gpio.PinIO
	lines []string
}

// NewPeriphGPIO initializes the periph.io host drivers and returns a GPIO
// controller over gpioreg.
func NewPeriphGPIO(logger *slog.Logger) *PeriphGPIO {
	if err := hostInit(); err != nil {
		logger.Warn("periph host init failed, only registered pins are usable", "error", err)
	}
	return newPeriphGPIO(gpioreg.ByName, logger)
}

func newPeriphGPIO(lookup func(string) gpio.PinIO, logger *slog.Logger) *PeriphGPIO {
	return &PeriphGPIO{
		lookup: lookup,
		logger: logger,
		pins:   make(map[string]gpio.PinIO),
	}
}

func (p *PeriphGPIO) pin(id string) (gpio.PinIO, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pin, ok := p.pins[id]; ok {
		return pin, nil
	}
	pin := p.lookup(id)
	if pin == nil {
		return nil, fmt.Errorf("GPIO %q not found", id)
	}
	p.pins[id] = pin
	p.lines = append(p.lines, id)
	return pin, nil
}

// Configure implements GPIO.
func (p *PeriphGPIO) Configure(id string, active gpio.Level, settle time.Duration) error {
	pin, err := p.pin(id)
	if err != nil {
		return err
	}
	if err := pin.Out(!active); err != nil {
		return fmt.Errorf("failed to configure GPIO %q: %w", id, err)
	}
	p.logger.Debug("GPIO configured", "line", id, "active", active.String())
	if settle > 0 {
		time.Sleep(settle)
	}
	return nil
}

// Set implements GPIO.
func (p *PeriphGPIO) Set(id string, level gpio.Level) error {
	pin, err := p.pin(id)
	if err != nil {
		return err
	}
	if err := pin.Out(level); err != nil {
		return fmt.Errorf("failed to set GPIO %q: %w", id, err)
	}
	return nil
}

// Lines implements GPIO.
func (p *PeriphGPIO) Lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.lines)
}
