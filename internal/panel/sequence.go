package panel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/smazurov/displaynode/internal/logging"
)

// Step asserts one GPIO line and then waits Delay.
type Step struct {
	Line   string
	Active gpio.Level
	Delay  time.Duration
}

// Sequence is the ordered panel power-on list followed by the backlight.
// Power-off runs in reverse: backlight first, then lines de-asserted from the
// last step to the first.
type Sequence struct {
	gpio      GPIO
	backlight Backlight
	logger    *slog.Logger

	mu             sync.Mutex
	steps          []Step
	backlightDelay time.Duration
}

// NewSequence creates a power sequence. A nil backlight means none.
func NewSequence(lines GPIO, steps []Step, backlight Backlight, backlightDelay time.Duration, logger *slog.Logger) *Sequence {
	if logger == nil {
		logger = logging.GetLogger("panel")
	}
	if backlight == nil {
		backlight = &noopBacklight{logger: logger}
	}
	if lines == nil {
		lines = newNoopGPIO(logger)
	}
	return &Sequence{
		gpio:           lines,
		backlight:      backlight,
		logger:         logger,
		steps:          steps,
		backlightDelay: backlightDelay,
	}
}

// Configure sets every line of the sequence to its inactive level.
func (s *Sequence) Configure() error {
	var errs []error
	for _, st := range s.Steps() {
		if err := s.gpio.Configure(st.Line, st.Active, 0); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Steps returns a copy of the power-on steps.
func (s *Sequence) Steps() []Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Step, len(s.steps))
	copy(out, s.steps)
	return out
}

// BacklightDelay returns the wait between the last step and backlight on.
func (s *Sequence) BacklightDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backlightDelay
}

// SetTiming replaces step delays and the backlight delay without changing
// the lines. delays is matched to steps by position.
func (s *Sequence) SetTiming(delays []time.Duration, backlightDelay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range min(len(delays), len(s.steps)) {
		s.steps[i].Delay = delays[i]
	}
	s.backlightDelay = backlightDelay
}

// Empty reports whether there is nothing to sequence.
func (s *Sequence) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, noop := s.backlight.(*noopBacklight)
	return len(s.steps) == 0 && noop
}

// PowerOn asserts the lines in order, waiting each step's delay, then turns
// the backlight on after the backlight delay. Cancelling ctx stops the
// sequence before the next line or the backlight is touched.
func (s *Sequence) PowerOn(ctx context.Context) error {
	for i, st := range s.Steps() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.gpio.Set(st.Line, st.Active); err != nil {
			s.logger.Warn("Panel GPIO assert failed", "step", i, "line", st.Line, "error", err)
		}
		if err := sleep(ctx, st.Delay); err != nil {
			return err
		}
	}

	if err := sleep(ctx, s.BacklightDelay()); err != nil {
		return err
	}
	if err := s.backlight.SetPower(true); err != nil {
		return err
	}
	s.logger.Debug("Panel powered on", "backlight", s.backlight.Name())
	return nil
}

// PowerOff turns the backlight off and de-asserts every line in reverse
// order. All steps run even when earlier ones fail.
func (s *Sequence) PowerOff() error {
	var errs []error
	if err := s.backlight.SetPower(false); err != nil {
		errs = append(errs, err)
	}
	steps := s.Steps()
	for i := len(steps) - 1; i >= 0; i-- {
		if err := s.gpio.Set(steps[i].Line, !steps[i].Active); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
