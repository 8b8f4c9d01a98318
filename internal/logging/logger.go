package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

const defaultBufferSize = 1000

// Logger is the subset of *slog.Logger that components depend on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config represents logging configuration.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

// moduleLogger pairs a logger with the level it filters at, so the level
// can change without handing out a new logger.
type moduleLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

type registry struct {
	mu       sync.RWMutex
	cfg      Config
	ready    bool
	global   slog.LevelVar
	modules  map[string]*moduleLogger
	buffer   *RingBuffer
	callback LogCallback
}

func newRegistry() *registry {
	return &registry{modules: make(map[string]*moduleLogger)}
}

var std = newRegistry()

// Initialize applies config to every module logger and the default slog
// logger, and starts a fresh ring buffer.
func Initialize(config Config) {
	r := std
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cfg = config
	r.ready = true
	r.buffer = NewRingBuffer(defaultBufferSize)
	r.global.Set(levelOr(config.Level, slog.LevelInfo))

	for name, m := range r.modules {
		m.level.Set(r.levelFor(name))
		m.logger = r.build(name, m.level)
	}
	slog.SetDefault(slog.New(createHandler(config.Format, &r.global)))
}

// GetLogger returns the logger of module, creating it on first use.
// Loggers created before Initialize are rebuilt by it.
func GetLogger(module string) *slog.Logger {
	r := std
	r.mu.RLock()
	m, ok := r.modules[module]
	r.mu.RUnlock()
	if ok {
		return m.logger
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(module).logger
}

// SetModuleLevel changes the level of a module logger at runtime. It
// reports false when level is not a known level name.
func SetModuleLevel(module, level string) bool {
	parsed, ok := parseLevel(level)
	if !ok {
		return false
	}

	r := std
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookup(module).level.Set(parsed)
	if r.cfg.Modules == nil {
		r.cfg.Modules = make(map[string]string)
	}
	r.cfg.Modules[module] = level
	return true
}

// GetBuffer returns the ring buffer of recent entries, or nil before
// Initialize.
func GetBuffer() *RingBuffer {
	buffer, _ := std.sink()
	return buffer
}

// SetLogCallback registers fn to receive every buffered entry.
func SetLogCallback(fn LogCallback) {
	std.mu.Lock()
	std.callback = fn
	std.mu.Unlock()
}

func (r *registry) sink() (*RingBuffer, LogCallback) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.buffer, r.callback
}

// lookup returns the entry of module, creating it. r.mu must be held.
func (r *registry) lookup(module string) *moduleLogger {
	if m, ok := r.modules[module]; ok {
		return m
	}
	m := &moduleLogger{level: new(slog.LevelVar)}
	m.level.Set(r.levelFor(module))
	m.logger = r.build(module, m.level)
	r.modules[module] = m
	return m
}

func (r *registry) levelFor(module string) slog.Level {
	if !r.ready {
		return slog.LevelInfo
	}
	return levelOr(r.cfg.Modules[module], levelOr(r.cfg.Level, slog.LevelInfo))
}

func (r *registry) build(module string, level slog.Leveler) *slog.Logger {
	format := "text"
	if r.ready {
		format = r.cfg.Format
	}
	return slog.New(createHandler(format, level)).With("module", module)
}

// createHandler fans records out to stdout, the journal when present and
// the ring buffer.
func createHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var handlers []slog.Handler
	if stdoutUsable() {
		if format == "json" {
			handlers = append(handlers, slog.NewJSONHandler(os.Stdout, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stdout, opts))
		}
	}
	if IsJournalAvailable() {
		handlers = append(handlers, NewJournalHandler(level))
	}
	handlers = append(handlers, NewBufferHandler(level))

	if len(handlers) == 1 {
		return handlers[0]
	}
	return fanout(handlers)
}

// stdoutUsable reports whether stdout goes somewhere: a terminal, pipe,
// socket or file. Under systemd without a journal fallback it may be closed.
func stdoutUsable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	const sinks = os.ModeCharDevice | os.ModeNamedPipe | os.ModeSocket
	return fi.Mode()&sinks != 0 || fi.Mode().IsRegular()
}

func levelOr(s string, fallback slog.Level) slog.Level {
	if l, ok := parseLevel(s); ok {
		return l
	}
	return fallback
}

// parseLevel accepts debug, info, warn, warning and error in any case.
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
