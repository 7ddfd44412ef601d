package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

const historySize = 1000

// Config is the [logging] section of the configuration file.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

type moduleLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

var (
	mu          sync.RWMutex
	modules     = make(map[string]*moduleLogger)
	cfg         Config
	initialized bool
	rootLevel   = &slog.LevelVar{}
	history     *RingBuffer
	onEntry     EntryCallback
)

// Initialize applies cfg to the logging system. Loggers handed out earlier keep
// their handlers but follow the configured levels.
func Initialize(config Config) {
	mu.Lock()
	defer mu.Unlock()

	cfg = config
	initialized = true
	if history == nil {
		history = NewRingBuffer(historySize)
	}

	rootLevel.Set(levelOr(config.Level, slog.LevelInfo))

	for name, m := range modules {
		m.level.Set(moduleLevel(name))
		m.logger = slog.New(newHandler(config.Format, m.level)).With("module", name)
	}

	slog.SetDefault(slog.New(newHandler(config.Format, rootLevel)))
}

// GetLogger returns the logger for module, creating it on first use.
func GetLogger(module string) *slog.Logger {
	mu.RLock()
	m, ok := modules[module]
	var l *slog.Logger
	if ok {
		l = m.logger
	}
	mu.RUnlock()
	if ok {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if m, ok := modules[module]; ok {
		return m.logger
	}

	level := &slog.LevelVar{}
	format := "text"
	if initialized {
		level.Set(moduleLevel(module))
		format = cfg.Format
	}

	m = &moduleLogger{
		logger: slog.New(newHandler(format, level)).With("module", module),
		level:  level,
	}
	modules[module] = m
	return m.logger
}

// SetModuleLevel changes the level of one module at runtime. It reports false
// when level is not a known level name.
func SetModuleLevel(module, level string) bool {
	parsed, ok := parseLevel(level)
	if !ok {
		return false
	}
	GetLogger(module)

	mu.Lock()
	defer mu.Unlock()
	modules[module].level.Set(parsed)
	if cfg.Modules == nil {
		cfg.Modules = make(map[string]string)
	}
	cfg.Modules[module] = strings.ToLower(level)
	return true
}

// Levels returns the effective level of every module logger created so far.
func Levels() map[string]string {
	mu.RLock()
	defer mu.RUnlock()
	out := make(map[string]string, len(modules))
	for name, m := range modules {
		out[name] = levelName(m.level.Level())
	}
	return out
}

// History returns the in-memory log history, or nil before Initialize.
func History() *RingBuffer {
	mu.RLock()
	defer mu.RUnlock()
	return history
}

// OnEntry registers a callback run for every record that reaches the history.
func OnEntry(cb EntryCallback) {
	mu.Lock()
	defer mu.Unlock()
	onEntry = cb
}

// moduleLevel must be called with mu held.
func moduleLevel(module string) slog.Level {
	base := levelOr(cfg.Level, slog.LevelInfo)
	if s, ok := cfg.Modules[module]; ok {
		return levelOr(s, base)
	}
	return base
}

func newHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var stdout slog.Handler
	if format == "json" {
		stdout = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		stdout = slog.NewTextHandler(os.Stdout, opts)
	}

	var handlers []slog.Handler
	if stdoutAttached() {
		handlers = append(handlers, stdout)
	}
	if JournalAvailable() {
		handlers = append(handlers, NewJournalHandler(level))
	}
	handlers = append(handlers, newHistoryHandler(level))

	if len(handlers) == 1 {
		return handlers[0]
	}
	return NewMultiHandler(handlers...)
}

// stdoutAttached is false when stdout is /dev/null, as under some unit files.
func stdoutAttached() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	m := fi.Mode()
	return m&os.ModeCharDevice != 0 || m&os.ModeNamedPipe != 0 || m&os.ModeSocket != 0 || m.IsRegular()
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return 0, false
}

func levelOr(s string, fallback slog.Level) slog.Level {
	if l, ok := parseLevel(s); ok {
		return l
	}
	return fallback
}

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warn"
	case l >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
