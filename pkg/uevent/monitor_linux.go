//go:build linux

package uevent

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

// Monitor receives kernel uevents from the netlink broadcast group.
type Monitor struct {
	fd int

	mu      sync.RWMutex
	filters []Filter
}

// NewMonitor opens and binds the netlink socket.
func NewMonitor() (*Monitor, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, err
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1}); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	// A receive timeout lets Run notice cancellation.
	tv := unix.Timeval{Sec: 1}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return &Monitor{fd: fd}, nil
}

// AddFilter adds a filter. An event is delivered when any filter passes it,
// or always when there are no filters.
func (m *Monitor) AddFilter(f Filter) {
	m.mu.Lock()
	m.filters = append(m.filters, f)
	m.mu.Unlock()
}

func (m *Monitor) accept(ev Event) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.filters) == 0 {
		return true
	}
	for _, f := range m.filters {
		if f(ev) {
			return true
		}
	}
	return false
}

// Close releases the socket.
func (m *Monitor) Close() error {
	return unix.Close(m.fd)
}

// Run delivers events to out until ctx is done or the socket fails. out is
// closed when Run returns.
func (m *Monitor) Run(ctx context.Context, out chan<- Event) error {
	defer close(out)

	buf := make([]byte, 8192)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, _, err := unix.Recvfrom(m.fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}

		ev, ok := Parse(buf[:n])
		if !ok || !m.accept(ev) {
			continue
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
