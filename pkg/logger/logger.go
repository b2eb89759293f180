// Package logger - настройка структурированного логирования на базе zap.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config - конфигурация логгера
type Config struct {
	// Level: debug, info, warn, error (default: info)
	Level string
	// Format: json (production) или text (console)
	Format string
	// Development включает caller и stacktrace на warn
	Development bool
}

// Logger обёртка над zap с доступом к sugar API
//
// Использование:
//
//	log := logger.Init(logger.Config{Level: "info", Format: "json"})
//	log.Info("order created", zap.String("order_id", id))
//	log.Sugar().Infof("order %s created", id)
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

// Init создаёт и настраивает логгер
//
// Пустая конфигурация даёт рабочий логгер с дефолтами (info, json).
func Init(cfg Config) *Logger {
	level := parseLevel(cfg.Level)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Format, "text") {
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)

	opts := []zap.Option{}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddCaller())
	}

	zl := zap.New(core, opts...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// Nop возвращает логгер, который ничего не пишет (для тестов)
func Nop() *Logger {
	zl := zap.NewNop()
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// Sugar возвращает sugared API (printf-style)
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// Named возвращает логгер с именем подсистемы
func (l *Logger) Named(name string) *Logger {
	zl := l.Logger.Named(name)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// parseLevel разбирает уровень логирования, незнакомый уровень = info
func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
