package logger

import (
	"os"

	"go.uber.org/zap"
)

type Logger interface {
	Info(msg string, values ...any)
	Warn(msg string, values ...any)
	Error(msg string, values ...any)
	Debug(msg string, values ...any)
	Fatal(err error, values ...any)
	With(values ...any) Logger
	Sync() error
}

func init() {
	if _, err := NewLogger(configFor(os.Getenv("LOG_ENV"))); err != nil {
		panic(err)
	}
}

func configFor(env string) zap.Config {
	if env == "production" {
		return zap.NewProductionConfig()
	}
	return zap.NewDevelopmentConfig()
}

func Info(msg string, values ...any) {
	GetLogger().Info(msg, values...)
}

func Warn(msg string, values ...any) {
	GetLogger().Warn(msg, values...)
}

func Error(msg string, values ...any) {
	GetLogger().Error(msg, values...)
}

func Debug(msg string, values ...any) {
	GetLogger().Debug(msg, values...)
}

func Fatal(err error, values ...any) {
	GetLogger().Fatal(err, values...)
}

// With returns a child logger that always carries the given key/value pairs.
func With(values ...any) Logger {
	return GetLogger().With(values...)
}

func Sync() error {
	return GetLogger().Sync()
}
