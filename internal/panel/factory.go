package panel

import (
	"log/slog"
	"os"
	"strings"

	"periph.io/x/conn/v3/gpio"

	"github.com/smazurov/displaynode/internal/logging"
)

const deviceTreeModelPath = "/proc/device-tree/model"

// NewGPIO returns a periph.io GPIO controller on device-tree boards and a
// no-op controller elsewhere.
func NewGPIO(logger *slog.Logger) GPIO {
	if logger == nil {
		logger = logging.GetLogger("panel")
	}
	model := detectBoard()
	if model == "unknown" {
		logger.Info("No board detected, using no-op panel GPIO")
		return newNoopGPIO(logger)
	}
	logger.Info("Detected board, using periph GPIO", "board_model", model)
	return NewPeriphGPIO(logger)
}

// NewBacklight creates a backlight from its board description:
//
//	""            no backlight control
//	"gpio:NAME"   enable line NAME, active high
//	"gpio:!NAME"  enable line NAME, active low
//	"NAME"        /sys/class/backlight/NAME
func NewBacklight(spec string, lines GPIO, logger *slog.Logger) Backlight {
	if logger == nil {
		logger = logging.GetLogger("panel")
	}
	switch {
	case spec == "":
		return &noopBacklight{logger: logger}
	case strings.HasPrefix(spec, "gpio:"):
		line := strings.TrimPrefix(spec, "gpio:")
		active := gpio.High
		if rest, ok := strings.CutPrefix(line, "!"); ok {
			line, active = rest, gpio.Low
		}
		return &gpioBacklight{gpio: lines, line: line, active: active}
	default:
		return newSysfsBacklight("", spec)
	}
}

// detectBoard reads the device tree model to identify the board.
func detectBoard() string {
	data, err := os.ReadFile(deviceTreeModelPath)
	if err != nil {
		return "unknown"
	}
	return strings.TrimRight(string(data), "\x00")
}
