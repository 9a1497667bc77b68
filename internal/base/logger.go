// Copyright 2024 The Silo Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"sync"

	"go.uber.org/zap"
)

// Logger defines an interface for writing log messages.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

type defaultLogger struct {
	s *zap.SugaredLogger
}

var (
	defaultLoggerOnce sync.Once
	defaultLoggerInst Logger
)

// DefaultLogger logs through a process-wide zap production logger. It is the
// logger used when Options.Logger is nil.
func DefaultLogger() Logger {
	defaultLoggerOnce.Do(func() {
		l, err := zap.NewProduction(zap.AddCallerSkip(1))
		if err != nil {
			// zap.NewProduction only fails if the sink cannot be opened;
			// fall back to a no-op core rather than refusing to run.
			l = zap.NewNop()
		}
		defaultLoggerInst = defaultLogger{s: l.Sugar()}
	})
	return defaultLoggerInst
}

func (l defaultLogger) Infof(format string, args ...interface{}) {
	l.s.Infof(format, args...)
}

func (l defaultLogger) Errorf(format string, args ...interface{}) {
	l.s.Errorf(format, args...)
}

func (l defaultLogger) Fatalf(format string, args ...interface{}) {
	l.s.Fatalf(format, args...)
}

// NopLogger discards all messages. Used by tests that exercise failure paths
// on purpose.
var NopLogger Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Fatalf(string, ...interface{}) {}
