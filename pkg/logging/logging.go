package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Module identifies a subsystem for log filtering
type Module string

// Module tags
const (
	ModuleGeneric   Module = "gen"
	ModuleInfo      Module = "inf"
	ModuleEncoder   Module = "enc"
	ModuleDecoder   Module = "dec"
	ModuleDMA       Module = "dma"
	ModuleScaler    Module = "scl"
	ModuleMultipass Module = "mps"
	ModuleDriver    Module = "drv"
	ModuleSystem    Module = "sys"
	ModuleMVE       Module = "mve"
	ModuleFirmware  Module = "fwe"
)

// Modules lists every module tag
var Modules = []Module{
	ModuleGeneric, ModuleInfo, ModuleEncoder, ModuleDecoder, ModuleDMA,
	ModuleScaler, ModuleMultipass, ModuleDriver, ModuleSystem, ModuleMVE, ModuleFirmware,
}

// Levels. Panic sits above error and is only used for contract violations.
const (
	LevelPanic   = slog.LevelError + 4
	LevelError   = slog.LevelError
	LevelWarning = slog.LevelWarn
	LevelInfo    = slog.LevelInfo
	LevelDebug   = slog.LevelDebug
)

// ParseLevel accepts the short level tags (panic, err, warn, info, dbg),
// their long forms, and the legacy numeric levels 0, 16, 32, 64 and 128
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "panic":
		return LevelPanic, nil
	case "err", "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarning, nil
	case "info":
		return LevelInfo, nil
	case "dbg", "debug":
		return LevelDebug, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	switch {
	case n < 16:
		return LevelPanic, nil
	case n < 32:
		return LevelError, nil
	case n < 64:
		return LevelWarning, nil
	case n < 128:
		return LevelInfo, nil
	default:
		return LevelDebug, nil
	}
}

// LevelName returns the short tag for a level
func LevelName(l slog.Level) string {
	switch {
	case l >= LevelPanic:
		return "panic"
	case l >= LevelError:
		return "err"
	case l >= LevelWarning:
		return "warn"
	case l >= LevelInfo:
		return "info"
	default:
		return "dbg"
	}
}

// ParseModule validates a module tag
func ParseModule(s string) (Module, error) {
	for _, m := range Modules {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown log module %q", s)
}

// Logger fans records out to one slog handler while filtering each module
// at its own level
type Logger struct {
	mu      sync.RWMutex
	handler slog.Handler
	levels  map[Module]*slog.LevelVar
	loggers map[Module]*slog.Logger
}

// New creates a text logger writing to w with every module at level
func New(w io.Writer, level slog.Level) *Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       LevelDebug,
		ReplaceAttr: replaceLevel,
	})
	return NewWithHandler(handler, level)
}

// NewWithHandler creates a logger on top of an existing handler
func NewWithHandler(handler slog.Handler, level slog.Level) *Logger {
	l := &Logger{
		handler: handler,
		levels:  make(map[Module]*slog.LevelVar),
		loggers: make(map[Module]*slog.Logger),
	}
	for _, m := range Modules {
		lv := new(slog.LevelVar)
		lv.Set(level)
		l.levels[m] = lv
	}
	return l
}

// Default writes warnings and above to stderr
func Default() *Logger {
	return New(os.Stderr, LevelWarning)
}

// Discard drops every record
func Discard() *Logger {
	return New(io.Discard, LevelPanic)
}

func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey && len(groups) == 0 {
		if lvl, ok := a.Value.Any().(slog.Level); ok {
			a.Value = slog.StringValue(LevelName(lvl))
		}
	}
	return a
}

func (l *Logger) levelVar(m Module) *slog.LevelVar {
	l.mu.RLock()
	lv, ok := l.levels[m]
	l.mu.RUnlock()
	if ok {
		return lv
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lv, ok = l.levels[m]; ok {
		return lv
	}
	lv = new(slog.LevelVar)
	lv.Set(l.levels[ModuleGeneric].Level())
	l.levels[m] = lv
	return lv
}

// SetLevel sets the minimum level for one module
func (l *Logger) SetLevel(m Module, level slog.Level) {
	l.levelVar(m).Set(level)
}

// SetAllLevels sets the minimum level for every module
func (l *Logger) SetAllLevels(level slog.Level) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, lv := range l.levels {
		lv.Set(level)
	}
}

// Level returns the minimum level of a module
func (l *Logger) Level(m Module) slog.Level {
	return l.levelVar(m).Level()
}

// For returns a slog.Logger tagged with the module and filtered at the
// module's level
func (l *Logger) For(m Module) *slog.Logger {
	l.mu.RLock()
	logger, ok := l.loggers[m]
	l.mu.RUnlock()
	if ok {
		return logger
	}

	lv := l.levelVar(m)
	logger = slog.New(&moduleHandler{inner: l.handler, level: lv}).With("module", string(m))

	l.mu.Lock()
	l.loggers[m] = logger
	l.mu.Unlock()
	return logger
}

// Logf logs a formatted line at level for module
func (l *Logger) Logf(m Module, level slog.Level, format string, args ...any) {
	logger := l.For(m)
	if !logger.Enabled(context.Background(), level) {
		return
	}
	logger.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

type moduleHandler struct {
	inner slog.Handler
	level *slog.LevelVar
}

func (h *moduleHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level() && h.inner.Enabled(ctx, level)
}

func (h *moduleHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

func (h *moduleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &moduleHandler{inner: h.inner.WithAttrs(attrs), level: h.level}
}

func (h *moduleHandler) WithGroup(name string) slog.Handler {
	return &moduleHandler{inner: h.inner.WithGroup(name), level: h.level}
}
