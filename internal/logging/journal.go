package logging

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
)

const syslogIdentifier = "displaynode"

// JournalHandler writes records to the systemd journal with attributes as
// upper-case fields.
type JournalHandler struct {
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

// NewJournalHandler creates a journal handler.
func NewJournalHandler(level slog.Leveler) *JournalHandler {
	return &JournalHandler{level: level}
}

func (h *JournalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	pri := priority(r.Level)
	fields := map[string]string{
		"SYSLOG_IDENTIFIER": syslogIdentifier,
	}
	for _, a := range h.attrs {
		journalField(fields, h.groups, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		journalField(fields, h.groups, a)
		return true
	})
	return journal.Send(r.Message, pri, fields)
}

func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &JournalHandler{
		level:  h.level,
		attrs:  append(slices.Clone(h.attrs), attrs...),
		groups: h.groups,
	}
}

func (h *JournalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &JournalHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: append(slices.Clone(h.groups), name),
	}
}

func priority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

// journalField adds a as a journal field. Journal field names only allow
// upper-case letters, digits and underscores.
func journalField(fields map[string]string, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := strings.ToUpper(strings.Join(append(slices.Clone(groups), a.Key), "_"))
	key = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, key)

	switch a.Value.Kind() {
	case slog.KindGroup:
		sub := append(slices.Clone(groups), a.Key)
		for _, ga := range a.Value.Group() {
			journalField(fields, sub, ga)
		}
	case slog.KindInt64:
		fields[key] = strconv.FormatInt(a.Value.Int64(), 10)
	case slog.KindUint64:
		fields[key] = strconv.FormatUint(a.Value.Uint64(), 10)
	case slog.KindBool:
		fields[key] = strconv.FormatBool(a.Value.Bool())
	default:
		fields[key] = a.Value.String()
	}
}

// JournalAvailable reports whether journald is reachable.
func JournalAvailable() bool {
	return journal.Enabled()
}
