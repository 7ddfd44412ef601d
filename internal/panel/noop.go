package panel

import (
	"log/slog"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/smazurov/displaynode/internal/logging"
)

// noopGPIO logs requests on boards without controllable panel lines.
type noopGPIO struct {
	logger *slog.Logger
}

func newNoopGPIO(logger *slog.Logger) *noopGPIO {
	return &noopGPIO{logger: logger}
}

// NewNoopGPIO returns a controller that only logs, for simulation.
func NewNoopGPIO(logger *slog.Logger) GPIO {
	if logger == nil {
		logger = logging.GetLogger("panel")
	}
	return newNoopGPIO(logger)
}

func (n *noopGPIO) Configure(id string, active gpio.Level, _ time.Duration) error {
	n.logger.Debug("GPIO control not available (no-op)", "line", id, "active", active.String())
	return nil
}

func (n *noopGPIO) Set(id string, level gpio.Level) error {
	n.logger.Debug("GPIO control not available (no-op)", "line", id, "level", level.String())
	return nil
}

func (n *noopGPIO) Lines() []string {
	return []string{}
}

type noopBacklight struct {
	logger *slog.Logger
}

func (n *noopBacklight) SetPower(on bool) error {
	n.logger.Debug("Backlight control not available (no-op)", "on", on)
	return nil
}

func (n *noopBacklight) Name() string { return "none" }
