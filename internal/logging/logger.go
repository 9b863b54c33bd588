// Package logging provides structured logging using Zap and an
// OpenTelemetry bridge, following the corpus's pkg/logging layout (console
// encoder + otelzap core tee'd together) rather than the corpus's
// alternate slog-based bootstrap path, which was never wired into its real
// entrypoint and is dropped here (see DESIGN.md).
package logging

import (
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"fundingkeeper/internal/core"
)

// ZapLogger adapts *zap.Logger to core.Logger.
type ZapLogger struct {
	z *zap.Logger
}

// New builds a ZapLogger at the given level ("debug", "info", "warn", "error").
func New(levelStr string) *ZapLogger {
	level := parseLevel(levelStr)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(encCfg)
	consoleCore := zapcore.NewCore(consoleEncoder, zapcore.Lock(zapcore.AddSync(os.Stdout)), level)

	otelCore := otelzap.NewCore("fundingkeeper", otelzap.WithLoggerProvider(global.GetLoggerProvider()))

	combined := zapcore.NewTee(consoleCore, otelCore)
	z := zap.New(combined, zap.AddCaller(), zap.AddCallerSkip(1))

	return &ZapLogger{z: z}
}

func (l *ZapLogger) Debug(msg string, kv ...any) { l.z.Sugar().Debugw(msg, kv...) }
func (l *ZapLogger) Info(msg string, kv ...any)  { l.z.Sugar().Infow(msg, kv...) }
func (l *ZapLogger) Warn(msg string, kv ...any)  { l.z.Sugar().Warnw(msg, kv...) }
func (l *ZapLogger) Error(msg string, kv ...any) { l.z.Sugar().Errorw(msg, kv...) }
func (l *ZapLogger) Fatal(msg string, kv ...any) { l.z.Sugar().Fatalw(msg, kv...) }

func (l *ZapLogger) With(kv ...any) core.Logger {
	return &ZapLogger{z: l.z.Sugar().With(kv...).Desugar()}
}

// Sync flushes any buffered log entries; call before process exit.
func (l *ZapLogger) Sync() error { return l.z.Sync() }

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
