// Copyright 2025 The pyrelay Authors
// This file is part of the pyrelay library.
//
// The pyrelay library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The pyrelay library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the pyrelay library. If not, see <http://www.gnu.org/licenses/>.

// Package log provides leveled key-value logging on top of zap. The
// interface stays stable while the backend remains swappable; packages log
// through Logger and never touch zap directly.
package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Lvl is a log verbosity level.
type Lvl int

const (
	LvlCrit Lvl = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

// LvlFromString returns the appropriate Lvl from a string name.
// Useful for parsing command line args and configuration files.
func LvlFromString(lvlString string) (Lvl, bool) {
	switch lvlString {
	case "trace", "trce":
		return LvlTrace, true
	case "debug", "dbug":
		return LvlDebug, true
	case "info", "":
		return LvlInfo, true
	case "warn":
		return LvlWarn, true
	case "error", "eror":
		return LvlError, true
	case "crit":
		return LvlCrit, true
	default:
		return LvlInfo, false
	}
}

func (l Lvl) zapLevel() zapcore.Level {
	switch l {
	case LvlTrace, LvlDebug:
		return zapcore.DebugLevel
	case LvlInfo:
		return zapcore.InfoLevel
	case LvlWarn:
		return zapcore.WarnLevel
	case LvlError:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel
	}
}

// A Logger writes key/value pairs at leveled severities.
type Logger interface {
	// New returns a new Logger that has this logger's context plus the given context.
	New(ctx ...interface{}) Logger

	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
}

type logger struct {
	s *zap.SugaredLogger
}

func (l *logger) New(ctx ...interface{}) Logger {
	return &logger{s: l.s.With(ctx...)}
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.s.Debugw(msg, ctx...) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.s.Debugw(msg, ctx...) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.s.Infow(msg, ctx...) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.s.Warnw(msg, ctx...) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.s.Errorw(msg, ctx...) }

// Crit logs the message and terminates the process.
func (l *logger) Crit(msg string, ctx ...interface{}) {
	l.s.Errorw(msg, ctx...)
	_ = l.s.Sync()
	os.Exit(1)
}

// Config controls the root logger built at boot.
type Config struct {
	Level Lvl
	JSON  bool   // JSON encoder; console encoder when false
	File  string // optional rotated file sink in addition to stderr
}

var root = &logger{s: newZap(Config{Level: LvlInfo}).Sugar()}

// Root returns the process-wide root logger.
func Root() Logger {
	return root
}

// New returns a child of the root logger carrying the given context.
func New(ctx ...interface{}) Logger {
	return root.New(ctx...)
}

// Setup replaces the root logger's backend. Call once at boot, before
// other goroutines start logging.
func Setup(cfg Config) {
	root.s = newZap(cfg).Sugar()
}

func newZap(cfg Config) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "t"
	encCfg.MessageKey = "msg"
	encCfg.LevelKey = "lvl"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if cfg.JSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	sink := zapcore.AddSync(os.Stderr)
	if cfg.File != "" {
		rotated := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    100, // megabytes
			MaxBackups: 10,
			MaxAge:     28, // days
			Compress:   true,
		})
		sink = zapcore.NewMultiWriteSyncer(sink, rotated)
	}

	core := zapcore.NewCore(enc, sink, cfg.Level.zapLevel())
	return zap.New(core)
}

// Convenience wrappers on the root logger.

func Trace(msg string, ctx ...interface{}) { root.Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { root.Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { root.Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { root.Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { root.Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { root.Crit(msg, ctx...) }
