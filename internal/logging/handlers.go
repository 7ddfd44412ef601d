package logging

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// EntryCallback receives each record written to the history.
type EntryCallback func(Entry)

// MultiHandler sends each record to every handler that accepts its level.
type MultiHandler struct {
	handlers []slog.Handler
}

// NewMultiHandler combines handlers.
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{handlers: handlers}
}

func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			_ = h.Handle(ctx, r.Clone())
		}
	}
	return nil
}

func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		out[i] = h.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: out}
}

func (m *MultiHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		out[i] = h.WithGroup(name)
	}
	return &MultiHandler{handlers: out}
}

// historyHandler writes into the package history. The history and callback
// are looked up per record so loggers created before Initialize still feed it.
type historyHandler struct {
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

func newHistoryHandler(level slog.Leveler) *historyHandler {
	return &historyHandler{level: level}
}

func (h *historyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *historyHandler) Handle(_ context.Context, r slog.Record) error {
	mu.RLock()
	buf, cb := history, onEntry
	mu.RUnlock()
	if buf == nil && cb == nil {
		return nil
	}

	e := Entry{
		Timestamp:  r.Time,
		Level:      levelName(r.Level),
		Module:     "displaynode",
		Message:    r.Message,
		Attributes: make(map[string]any),
	}
	collect := func(a slog.Attr) bool {
		if a.Key == "module" && len(h.groups) == 0 {
			e.Module = a.Value.String()
			return true
		}
		flatten(e.Attributes, h.groups, a)
		return true
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(collect)

	if buf != nil {
		buf.Write(e)
	}
	if cb != nil {
		cb(e)
	}
	return nil
}

func (h *historyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &historyHandler{
		level:  h.level,
		attrs:  append(append([]slog.Attr(nil), h.attrs...), attrs...),
		groups: h.groups,
	}
}

func (h *historyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &historyHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: append(append([]string(nil), h.groups...), name),
	}
}

func flatten(dst map[string]any, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}

	switch a.Value.Kind() {
	case slog.KindGroup:
		sub := append(append([]string(nil), groups...), a.Key)
		for _, ga := range a.Value.Group() {
			flatten(dst, sub, ga)
		}
	case slog.KindTime:
		dst[key] = a.Value.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		dst[key] = a.Value.Duration().String()
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			dst[key] = err.Error()
		} else {
			dst[key] = a.Value.Any()
		}
	default:
		dst[key] = a.Value.Any()
	}
}
