// Package logger настраивает zap для всего сервиса
package logger

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultLevel = "info"

type ctxKey struct{}

// New создаёт JSON логгер с указанным уровнем, неизвестный уровень заменяется на info
func New(level string) (*zap.Logger, error) {

	lvl := zap.NewAtomicLevel()
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		_ = lvl.UnmarshalText([]byte(defaultLevel))
	}

	encoderCfg := zapcore.EncoderConfig{
		MessageKey: "message",
		TimeKey:    "timestamp",
		LevelKey:   "severity",
		NameKey:    "logger",
		EncodeTime: zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(strings.ToUpper(l.String()))
		},
		EncodeDuration: zapcore.StringDurationEncoder,
		CallerKey:      "caller",
		EncodeCaller:   zapcore.ShortCallerEncoder,
		StacktraceKey:  "stacktrace",
	}

	cfg := zap.Config{
		Level:             lvl,
		Encoding:          "json",
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}

	return cfg.Build()
}

// WithContext кладёт логгер в контекст запроса
func WithContext(ctx context.Context, log *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// FromContext достаёт логгер из контекста, при отсутствии возвращает fallback или no-op
func FromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {

	if log, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && log != nil {
		return log
	}
	if fallback != nil {
		return fallback
	}

	return zap.NewNop()
}

// Printf возвращает printf-функцию поверх zap для библиотек со своим интерфейсом логов
func Printf(log *zap.Logger, level zapcore.Level) func(string, ...any) {

	if log == nil {
		log = zap.NewNop()
	}
	sugar := log.WithOptions(zap.AddCallerSkip(1)).Sugar()

	return func(format string, args ...any) {
		sugar.Logf(level, format, args...)
	}
}
