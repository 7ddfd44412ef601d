package backend

import (
	"context"
	"log/slog"

	"github.com/smazurov/displaynode/internal/mode"
	"github.com/smazurov/displaynode/internal/regs"
)

// RGB drives a parallel RGB panel, optionally through the MPU (i80) interface.
type RGB struct {
	Common
	mpu bool
}

// NewRGB creates a parallel RGB output.
func NewRGB(name string, bank regs.Bank, panel PanelSource, mpu bool, logger *slog.Logger) *RGB {
	r := &RGB{mpu: mpu}
	r.init(KindRGB, name, bank, nil, panel, logger)
	return r
}

// ApplyMode selects the interface type. Parallel RGB has no PHY to program.
func (r *RGB) ApplyMode(m mode.Mode) error {
	if _, err := r.boundPipe("rgb.ApplyMode"); err != nil {
		return err
	}
	var ctrl uint32
	if r.mpu {
		ctrl = 1
	}
	r.bank.Write32(RegRGBCtrl, ctrl)
	r.logger.Debug("RGB mode applied", "mode", m.String(), "mpu", r.mpu)
	return nil
}

func (r *RGB) Prepare(context.Context) error { return nil }

func (r *RGB) Unprepare() error { return nil }

// Power switches the output mux.
func (r *RGB) Power(on bool) error {
	return r.setMux("rgb.Power", on)
}
