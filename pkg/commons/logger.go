// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package commons

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the application-wide logging contract. Structured variants take
// alternating key/value pairs; the *f variants are printf-style. Benchmark
// records a named elapsed duration at debug level.
type Logger interface {
	Debug(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})

	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})

	Benchmark(name string, elapsed time.Duration)
	Sync() error
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// LoggerOption customises logger construction.
type LoggerOption func(*loggerOptions)

type loggerOptions struct {
	level   zapcore.Level
	file    string
	maxSize int // megabytes before rotation
}

// WithLevel sets the minimum level from a string ("debug", "info", "warn", "error").
func WithLevel(level string) LoggerOption {
	return func(o *loggerOptions) {
		switch strings.ToLower(level) {
		case "debug":
			o.level = zapcore.DebugLevel
		case "warn":
			o.level = zapcore.WarnLevel
		case "error":
			o.level = zapcore.ErrorLevel
		default:
			o.level = zapcore.InfoLevel
		}
	}
}

// WithRotatingFile mirrors log output to a size-rotated file.
func WithRotatingFile(path string, maxSizeMB int) LoggerOption {
	return func(o *loggerOptions) {
		o.file = path
		o.maxSize = maxSizeMB
	}
}

// NewApplicationLogger builds the standard application logger: JSON encoding,
// ISO-8601 timestamps, stdout, optional rotating file sink.
func NewApplicationLogger(opts ...LoggerOption) (Logger, error) {
	options := &loggerOptions{level: zapcore.InfoLevel, maxSize: 100}
	for _, opt := range opts {
		opt(options)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	sinks := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), options.level),
	}
	if options.file != "" {
		rotator := &lumberjack.Logger{
			Filename:   options.file,
			MaxSize:    options.maxSize,
			MaxBackups: 5,
			Compress:   true,
		}
		sinks = append(sinks, zapcore.NewCore(encoder, zapcore.AddSync(rotator), options.level))
	}

	core := zapcore.NewTee(sinks...)
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &zapLogger{sugar: logger.Sugar()}, nil
}

// NewNopLogger returns a logger that discards everything. Intended for tests.
func NewNopLogger() Logger {
	return &zapLogger{sugar: zap.NewNop().Sugar()}
}

func (l *zapLogger) Debug(msg string, kv ...interface{}) { l.sugar.Debugw(msg, kv...) }
func (l *zapLogger) Info(msg string, kv ...interface{})  { l.sugar.Infow(msg, kv...) }
func (l *zapLogger) Warn(msg string, kv ...interface{})  { l.sugar.Warnw(msg, kv...) }
func (l *zapLogger) Error(msg string, kv ...interface{}) { l.sugar.Errorw(msg, kv...) }

func (l *zapLogger) Debugf(template string, args ...interface{}) { l.sugar.Debugf(template, args...) }
func (l *zapLogger) Infof(template string, args ...interface{})  { l.sugar.Infof(template, args...) }
func (l *zapLogger) Warnf(template string, args ...interface{})  { l.sugar.Warnf(template, args...) }
func (l *zapLogger) Errorf(template string, args ...interface{}) { l.sugar.Errorf(template, args...) }

func (l *zapLogger) Benchmark(name string, elapsed time.Duration) {
	l.sugar.Debugw("benchmark", "name", name, "elapsed", elapsed.String())
}

func (l *zapLogger) Sync() error { return l.sugar.Sync() }
