// Copyright (c) 2024 The Reactor Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging provides the structured logger used by every layer of the
// reactor core, backed by go.uber.org/zap. The environment variable
// REACTOR_LOGGING_LEVEL selects the zap level (as an integer, zap's own
// numbering) and REACTOR_LOGGING_FILE, when set, redirects output through a
// lumberjack-rotated file instead of stdout.
package logging

import (
	"os"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is the alias of zapcore.Level.
type Level = zapcore.Level

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
	FatalLevel = zapcore.FatalLevel
)

// Logger is the interface every component in this module logs through.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// Flusher flushes any buffered log entries; call it before process exit.
type Flusher func() error

var (
	defaultLogger  Logger
	defaultFlusher Flusher
	defaultLevel   Level
	setupOnce      sync.Once
)

func init() {
	if lvl := os.Getenv("REACTOR_LOGGING_LEVEL"); lvl != "" {
		n, err := strconv.ParseInt(lvl, 10, 8)
		if err != nil {
			panic("invalid REACTOR_LOGGING_LEVEL: " + err.Error())
		}
		defaultLevel = Level(n)
	}

	if file := os.Getenv("REACTOR_LOGGING_FILE"); file != "" {
		logger, flusher, err := NewFileLogger(file, defaultLevel)
		if err != nil {
			panic("invalid REACTOR_LOGGING_FILE: " + err.Error())
		}
		defaultLogger, defaultFlusher = logger, flusher
		return
	}

	core := zapcore.NewCore(devEncoder(), zapcore.Lock(os.Stdout), defaultLevel)
	zl := zap.New(core, zap.AddCaller(), zap.AddStacktrace(ErrorLevel), zap.ErrorOutput(zapcore.Lock(os.Stderr)))
	defaultLogger = zl.Sugar()
}

type prefixEncoder struct {
	zapcore.Encoder
	prefix  string
	bufPool buffer.Pool
}

func (e *prefixEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	buf := e.bufPool.Get()
	buf.AppendString(e.prefix)
	buf.AppendString(" ")

	encoded, err := e.Encoder.EncodeEntry(entry, fields)
	if err != nil {
		return nil, err
	}
	if _, err := buf.Write(encoded.Bytes()); err != nil {
		return nil, err
	}
	return buf, nil
}

func devEncoder() zapcore.Encoder {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return &prefixEncoder{Encoder: zapcore.NewConsoleEncoder(cfg), prefix: "[reactor]", bufPool: buffer.NewPool()}
}

func prodEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return &prefixEncoder{Encoder: zapcore.NewConsoleEncoder(cfg), prefix: "[reactor]", bufPool: buffer.NewPool()}
}

// NewFileLogger builds a Logger that writes rotated log files through lumberjack.
func NewFileLogger(path string, level Level) (Logger, Flusher, error) {
	lj := &lumberjack.Logger{Filename: path, MaxSize: 100, MaxBackups: 2, MaxAge: 15}
	ws := zapcore.AddSync(lj)
	core := zapcore.NewCore(prodEncoder(), ws, zap.LevelEnablerFunc(func(l Level) bool { return l >= level }))
	zl := zap.New(core, zap.AddCaller(), zap.AddStacktrace(ErrorLevel))
	return zl.Sugar(), func() error { return lj.Close() }, nil
}

// Default returns the package-level default logger.
func Default() Logger { return defaultLogger }

// DefaultFlusher returns the package-level default flusher, if one was installed.
func DefaultFlusher() Flusher { return defaultFlusher }

// SetDefault installs a custom default logger and flusher. It can only be called
// once per process; later calls are ignored, matching the lineage's "set up once
// at process start" contract.
func SetDefault(logger Logger, flusher Flusher) {
	setupOnce.Do(func() {
		defaultLogger, defaultFlusher = logger, flusher
	})
}

func Debugf(format string, args ...interface{}) { defaultLogger.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { defaultLogger.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { defaultLogger.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { defaultLogger.Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { defaultLogger.Fatalf(format, args...) }
