// Package logging provides the process-wide zap logger.
package logging

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

type ctxKey struct{}

var (
	mu     sync.RWMutex
	global *zap.Logger
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console, auto
	OutputPath string // stderr (default), stdout, or a file path
}

// Init replaces the global logger. Format "auto" (or empty) picks the
// console encoder when stderr is a terminal and JSON otherwise.
func Init(cfg Config) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	level.SetLevel(lvl)

	zc := zap.NewProductionConfig()
	if resolveFormat(cfg.Format) == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	if cfg.OutputPath != "" {
		zc.OutputPaths = []string{cfg.OutputPath}
	}

	logger, err := zc.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return err
	}
	Replace(logger)
	return nil
}

func resolveFormat(format string) string {
	if format != "" && format != "auto" {
		return format
	}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return "console"
	}
	return "json"
}

// Replace swaps the global logger; nil restores the lazy default.
func Replace(logger *zap.Logger) {
	mu.Lock()
	global = logger
	mu.Unlock()
}

// Sync flushes buffered entries.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if global == nil {
		return nil
	}
	return global.Sync()
}

// L returns the global logger, building a production logger on first use.
func L() *zap.Logger {
	mu.RLock()
	logger := global
	mu.RUnlock()
	if logger != nil {
		return logger
	}

	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global, _ = zap.NewProduction()
	}
	return global
}

// Named returns a child of the global logger scoped to a component.
func Named(component string) *zap.Logger {
	return L().Named(component)
}

// WithSession returns a context whose logger tags entries with the session id.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, FromContext(ctx).With(zap.String("session_id", sessionID)))
}

// FromContext returns the logger carried by ctx, or the global logger.
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return logger
	}
	return L()
}

// Reporter returns an error sink that logs recovered errors for a component.
func Reporter(component string) func(error) {
	return func(err error) {
		if err != nil {
			L().Warn("recovered error", zap.String("component", component), zap.Error(err))
		}
	}
}

// S returns the global sugared logger.
func S() *zap.SugaredLogger { return L().Sugar() }

// wrapped skips the package-level helpers below when reporting the caller.
func wrapped() *zap.Logger { return L().WithOptions(zap.AddCallerSkip(1)) }

// Debug logs at debug level on the global logger.
func Debug(msg string, fields ...zap.Field) { wrapped().Debug(msg, fields...) }

// Info logs at info level on the global logger.
func Info(msg string, fields ...zap.Field) { wrapped().Info(msg, fields...) }

// Warn logs at warn level on the global logger.
func Warn(msg string, fields ...zap.Field) { wrapped().Warn(msg, fields...) }

// Error logs at error level on the global logger.
func Error(msg string, fields ...zap.Field) { wrapped().Error(msg, fields...) }

// Fatal logs on the global logger and exits the process.
func Fatal(msg string, fields ...zap.Field) { wrapped().Fatal(msg, fields...) }
