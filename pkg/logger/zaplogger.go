package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
)

type ZapLogger struct {
	log *zap.SugaredLogger
}

var current atomic.Pointer[ZapLogger]

// NewLogger builds a zap logger from config and installs it as the package logger.
func NewLogger(config zap.Config) (*ZapLogger, error) {
	base, err := config.Build(zap.AddCallerSkip(2))
	if err != nil {
		return nil, err
	}
	l := &ZapLogger{log: base.Sugar()}
	current.Store(l)
	return l, nil
}

// Replace installs an already built zap logger, mostly for tests that want zaptest/observer output.
func Replace(base *zap.Logger) {
	current.Store(&ZapLogger{log: base.WithOptions(zap.AddCallerSkip(2)).Sugar()})
}

func GetLogger() *ZapLogger {
	l := current.Load()
	if l == nil {
		panic("logger not initialized")
	}
	return l
}

func (l *ZapLogger) Fatal(err error, values ...any) {
	l.log.Fatalw(err.Error(), values...)
}

func (l *ZapLogger) Info(message string, values ...any) {
	l.log.Infow(message, values...)
}

func (l *ZapLogger) Warn(message string, values ...any) {
	l.log.Warnw(message, values...)
}

func (l *ZapLogger) Error(message string, values ...any) {
	l.log.Errorw(message, values...)
}

func (l *ZapLogger) Debug(message string, values ...any) {
	l.log.Debugw(message, values...)
}

// With keeps the caller skip of the package helpers, so a child is used through its own methods
// one frame shallower; the extra skip is undone here.
func (l *ZapLogger) With(values ...any) Logger {
	return &ZapLogger{log: l.log.WithOptions(zap.AddCallerSkip(-1)).With(values...)}
}

func (l *ZapLogger) Sync() error {
	return l.log.Sync()
}
