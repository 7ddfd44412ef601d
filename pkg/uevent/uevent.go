// Package uevent decodes kernel uevent messages and, on Linux, listens for
// them on a netlink socket without cgo. The display node uses it to pick up
// connector changes the DRM core reports as "change" events with HOTPLUG=1.
package uevent

import (
	"bytes"
	"strconv"
	"strings"
)

// Actions.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
	ActionChange = "change"
	ActionBind   = "bind"
	ActionUnbind = "unbind"
)

// Subsystems the display node cares about.
const (
	SubsystemDRM       = "drm"
	SubsystemBacklight = "backlight"
	SubsystemGPIO      = "gpio"
)

// Event is one kernel uevent.
type Event struct {
	Action    string
	KObj      string
	Subsystem string
	DevType   string
	DevName   string
	Seqnum    uint64
	Env       map[string]string
}

// IsDRMHotplug reports whether the event is a DRM connector status change.
func (e Event) IsDRMHotplug() bool {
	return e.Subsystem == SubsystemDRM && e.Action == ActionChange && e.Env["HOTPLUG"] == "1"
}

// Connector returns the DRM connector id carried by the event, if any.
// Older kernels send hotplug events without it.
func (e Event) Connector() (int, bool) {
	v, ok := e.Env["CONNECTOR"]
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(v)
	return id, err == nil
}

// Card returns the DRM card number from DEVNAME ("dri/card0").
func (e Event) Card() (int, bool) {
	name, ok := strings.CutPrefix(e.DevName, "dri/card")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(name)
	return n, err == nil
}

// Filter selects events.
type Filter func(Event) bool

// DRMHotplug passes DRM connector status changes.
func DRMHotplug(e Event) bool { return e.IsDRMHotplug() }

// Subsystem passes events of any of the named subsystems.
func Subsystem(names ...string) Filter {
	return func(e Event) bool {
		for _, n := range names {
			if e.Subsystem == n {
				return true
			}
		}
		return false
	}
}

var libudevMagic = []byte("libudev")

// Parse decodes a uevent datagram of the form
// "ACTION@KOBJ\0KEY=VALUE\0...". Messages rebroadcast by udev start with a
// binary header which is skipped.
func Parse(data []byte) (Event, bool) {
	if bytes.HasPrefix(data, libudevMagic) {
		data = skipUdevHeader(data)
	}

	fields := bytes.Split(data, []byte{0})
	if len(fields) == 0 {
		return Event{}, false
	}
	action, kobj, ok := strings.Cut(string(fields[0]), "@")
	if !ok || action == "" {
		return Event{}, false
	}

	ev := Event{Action: action, KObj: kobj, Env: make(map[string]string)}
	for _, f := range fields[1:] {
		key, value, ok := strings.Cut(string(f), "=")
		if !ok || key == "" {
			continue
		}
		ev.Env[key] = value
		switch key {
		case "SUBSYSTEM":
			ev.Subsystem = value
		case "DEVTYPE":
			ev.DevType = value
		case "DEVNAME":
			ev.DevName = value
		case "SEQNUM":
			ev.Seqnum, _ = strconv.ParseUint(value, 10, 64)
		case "ACTION":
			// udev messages repeat the action in the environment.
			ev.Action = value
		}
	}
	return ev, true
}

// skipUdevHeader returns the first NUL-terminated field after the header
// that looks like "action@path".
func skipUdevHeader(data []byte) []byte {
	for i := 0; i < len(data)-1; i++ {
		if data[i] != 0 {
			continue
		}
		rest := data[i+1:]
		if at := bytes.IndexByte(rest, '@'); at > 0 && at < 20 {
			return rest
		}
	}
	return nil
}
