package display

import (
	"time"

	"github.com/smazurov/displaynode/internal/backend"
	"github.com/smazurov/displaynode/internal/config"
)

// Board returns the board description currently applied.
func (s *Subsystem) Board() *config.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board
}

// ApplyTunables takes the settings from a reloaded board description that
// can change at runtime: panel power delays, backlight delay, HDMI color
// range and hotplug debounce. Structural differences are logged and need a
// restart.
func (s *Subsystem) ApplyTunables(b *config.Board) {
	debounce := b.Hotplug.Debounce()

	for _, pc := range b.Pipes {
		p, ok := s.pipes[pc.Index]
		if ok {
			s.mu.Lock()
			ok = p.cfg.Output == pc.Output
			s.mu.Unlock()
		}
		if !ok {
			s.logger.Warn("Board pipe layout changed, restart to apply", "pipe", pc.Index, "output", pc.Output)
			continue
		}

		if seq := p.ctrl.Sequence(); seq != nil {
			if len(pc.Panel.Power) == len(seq.Steps()) {
				delays := make([]time.Duration, len(pc.Panel.Power))
				for i, st := range pc.Panel.Power {
					delays[i] = time.Duration(st.DelayMs) * time.Millisecond
				}
				seq.SetTiming(delays, pc.Panel.BacklightDelay())
			} else {
				s.logger.Warn("Panel power steps changed, restart to apply", "pipe", pc.Index)
			}
		}

		if p.hdmi != nil {
			if rng, err := backend.ParseColorRange(pc.HDMI.ColorRange); err == nil {
				p.hdmi.SetColorRange(rng)
			}
		}
		if p.hotplug != nil {
			p.hotplug.SetDebounce(debounce)
		}
		s.mu.Lock()
		p.cfg = pc
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.board = b
	s.mu.Unlock()
	s.logger.Info("Board tunables applied", "board", b.Name, "hotplug_debounce", debounce)
}
