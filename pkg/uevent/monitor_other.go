//go:build !linux

package uevent

import (
	"context"
	"errors"
)

// ErrUnsupported is returned on platforms without netlink uevents.
var ErrUnsupported = errors.New("uevent: netlink is only available on linux")

// Monitor is unavailable on this platform.
type Monitor struct{}

// NewMonitor always fails on this platform.
func NewMonitor() (*Monitor, error) { return nil, ErrUnsupported }

// AddFilter does nothing.
func (m *Monitor) AddFilter(Filter) {}

// Close does nothing.
func (m *Monitor) Close() error { return nil }

// Run closes out and fails.
func (m *Monitor) Run(_ context.Context, out chan<- Event) error {
	close(out)
	return ErrUnsupported
}
