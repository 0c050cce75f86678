// internal/observability/logger.go
package observability

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pagescout/pagescout/internal/config"
)

var (
	globalLogger atomic.Pointer[zap.Logger]
	initOnce     sync.Once
)

const ansiReset = "\x1b[0m"

// ansiColors maps the color names accepted in logger.colors to escape codes.
var ansiColors = map[string]string{
	"black":   "\x1b[30m",
	"red":     "\x1b[31m",
	"green":   "\x1b[32m",
	"yellow":  "\x1b[33m",
	"blue":    "\x1b[34m",
	"magenta": "\x1b[35m",
	"cyan":    "\x1b[36m",
	"white":   "\x1b[37m",
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// New builds a logger from cfg. Console output goes to consoleWriter; when
// cfg.LogFile is set, entries are also written as JSON to a rotating file.
// New touches no global state.
func New(cfg config.LoggerConfig, consoleWriter zapcore.WriteSyncer) *zap.Logger {
	level := parseLevel(cfg.Level)

	var console zapcore.Encoder
	if cfg.Format == "console" {
		console = consoleEncoder(cfg.Colors)
	} else {
		console = jsonEncoder()
	}
	core := zapcore.NewCore(console, consoleWriter, level)
	if cfg.LogFile != "" {
		core = zapcore.NewTee(core, fileCore(cfg, level))
	}

	opts := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
	if cfg.AddSource {
		opts = append(opts, zap.AddCaller())
	}
	logger := zap.New(core, opts...)
	if cfg.ServiceName != "" {
		logger = logger.Named(cfg.ServiceName)
	}
	return logger
}

// parseLevel falls back to info for empty or unknown level names.
func parseLevel(name string) zap.AtomicLevel {
	level, err := zap.ParseAtomicLevel(name)
	if err != nil || name == "" {
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return level
}

func fileCore(cfg config.LoggerConfig, level zapcore.LevelEnabler) zapcore.Core {
	rotating := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	return zapcore.NewCore(jsonEncoder(), zapcore.AddSync(rotating), level)
}

func jsonEncoder() zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(ec)
}

// consoleEncoder renders one colorized line per entry. Logger names carry a
// trailing dot, e.g. "pagescout.explorer.".
func consoleEncoder(colors config.ColorConfig) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	ec.EncodeLevel = levelColorizer(colors)
	ec.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(name + ".")
	}
	return zapcore.NewConsoleEncoder(ec)
}

// levelColorizer resolves the configured palette once and wraps each level name
// in its color. Levels without a known color are printed plain.
func levelColorizer(colors config.ColorConfig) zapcore.LevelEncoder {
	palette := map[zapcore.Level]string{
		zapcore.DebugLevel:  ansiColors[colors.Debug],
		zapcore.InfoLevel:   ansiColors[colors.Info],
		zapcore.WarnLevel:   ansiColors[colors.Warn],
		zapcore.ErrorLevel:  ansiColors[colors.Error],
		zapcore.DPanicLevel: ansiColors[colors.DPanic],
		zapcore.PanicLevel:  ansiColors[colors.Panic],
		zapcore.FatalLevel:  ansiColors[colors.Fatal],
	}
	return func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		name := level.CapitalString()
		if color := palette[level]; color != "" {
			name = color + name + ansiReset
		}
		enc.AppendString(name)
	}
}

// -- Global logger --

// Initialize installs the global logger built from cfg. Only the first call has
// an effect. The zap globals and the standard library logger are redirected too.
func Initialize(cfg config.LoggerConfig, consoleWriter zapcore.WriteSyncer) {
	initOnce.Do(func() {
		logger := New(cfg, consoleWriter)
		globalLogger.Store(logger)
		zap.ReplaceGlobals(logger)
		zap.RedirectStdLog(logger)
	})
}

// InitializeLogger initializes the global logger on stderr. Stdout is reserved
// for command output.
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stderr))
}

// ResetForTest clears the global logger.
func ResetForTest() {
	globalLogger.Store(nil)
	initOnce = sync.Once{}
}

// GetLogger returns the global logger. Before initialization it returns a
// warn-level console logger on stderr, which is not stored.
func GetLogger() *zap.Logger {
	if logger := globalLogger.Load(); logger != nil {
		return logger
	}
	fallback := New(config.LoggerConfig{Level: "warn", Format: "console"}, zapcore.Lock(os.Stderr))
	return fallback.Named("fallback")
}

// Sync flushes the global logger. Failures to sync a terminal or pipe are
// ignored; they are expected on most platforms.
func Sync() {
	logger := globalLogger.Load()
	if logger == nil {
		return
	}
	if err := logger.Sync(); err != nil && !ignorableSyncError(err) {
		fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
	}
}

func ignorableSyncError(err error) bool {
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) || errors.Is(err, syscall.ENOTSUP) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "/dev/stdout") || strings.Contains(msg, "/dev/stderr")
}
