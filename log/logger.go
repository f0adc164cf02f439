// Package log defines the small logging surface the detour packages
// write to. The embedder owns the sink: anything satisfying [Logger]
// (such as *slog.Logger) can be injected, and nothing is logged until
// one is.
package log

import (
	"context"
	"log/slog"
	"sync"
)

// Attribute keys used by the detour packages.
const (
	// KeyHop is the alias of the intermediate host a tunnel connects through.
	KeyHop = "hop"

	// KeyPid is a child process id.
	KeyPid = "pid"

	// KeyCommand is a command-line.
	KeyCommand = "command"

	// KeyTarget is a target host:port endpoint.
	KeyTarget = "target"

	// KeyError is an error.
	KeyError = "error"
)

// Logger accepts leveled messages with key-value pairs, the contract
// *slog.Logger already fulfills. The functions are not sprintf-style.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Null logger discards everything. It is what uninjected objects log to.
var Null = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }

// WithAttrs returns a logger that carries the given key-value pairs on
// every message.
func WithAttrs(logger Logger, attrs ...any) Logger {
	return attrLogger{base: logger, attrs: attrs}
}

type attrLogger struct {
	base  Logger
	attrs []any
}

func (a attrLogger) kv(keysAndValues []any) []any {
	merged := make([]any, 0, len(a.attrs)+len(keysAndValues))
	merged = append(merged, a.attrs...)
	return append(merged, keysAndValues...)
}

func (a attrLogger) Debug(msg string, keysAndValues ...any) { a.base.Debug(msg, a.kv(keysAndValues)...) }
func (a attrLogger) Info(msg string, keysAndValues ...any)  { a.base.Info(msg, a.kv(keysAndValues)...) }
func (a attrLogger) Warn(msg string, keysAndValues ...any)  { a.base.Warn(msg, a.kv(keysAndValues)...) }
func (a attrLogger) Error(msg string, keysAndValues ...any) { a.base.Error(msg, a.kv(keysAndValues)...) }

// LoggerInjectable can be embedded to make a struct accept an injected
// logger. The zero value logs to [Null].
type LoggerInjectable struct {
	logger Logger
}

// SetLogger sets the logger for the embedding object.
func (li *LoggerInjectable) SetLogger(logger Logger) {
	li.logger = logger
}

// Log returns the injected logger, or [Null] when none has been set.
func (li *LoggerInjectable) Log() Logger {
	if li.logger == nil {
		return Null
	}
	return li.logger
}

// HasLogger returns true if a logger has been injected.
func (li *LoggerInjectable) HasLogger() bool {
	return li.logger != nil && li.logger != Null
}

// InjectLoggerTo passes the embedding object's logger on to obj,
// optionally stamped with extra attributes. Without a logger this does
// nothing.
func (li *LoggerInjectable) InjectLoggerTo(obj any, attrs ...any) {
	if li.HasLogger() {
		InjectLogger(li.logger, obj, attrs...)
	}
}

type injectable interface {
	SetLogger(Logger)
}

// InjectLogger hands the logger to obj if obj accepts one. Objects that
// don't are left alone.
func InjectLogger(logger Logger, obj any, attrs ...any) {
	target, ok := obj.(injectable)
	if !ok {
		return
	}
	if len(attrs) > 0 {
		logger = WithAttrs(logger, attrs...)
	}
	target.SetLogger(logger)
}

// TraceLogger receives detour's internal trace logging, which is off by
// default. *slog.Logger implements it.
type TraceLogger interface {
	Log(ctx context.Context, level slog.Level, msg string, keysAndValues ...any)
}

var (
	traceMu sync.RWMutex
	tracer  TraceLogger = Null
)

// SetTraceLogger routes the internal trace logging somewhere, mostly
// useful when debugging detour itself or in tests.
func SetTraceLogger(l TraceLogger) {
	traceMu.Lock()
	defer traceMu.Unlock()
	tracer = l
}

// GetTraceLogger returns the current trace logger.
func GetTraceLogger() TraceLogger {
	traceMu.RLock()
	defer traceMu.RUnlock()
	return tracer
}

// Trace emits an internal trace message.
func Trace(ctx context.Context, msg string, keysAndValues ...any) {
	GetTraceLogger().Log(ctx, slog.LevelInfo, msg, keysAndValues...)
}
