// Copyright (c) 2016-2019 Uber Technologies, Inc.
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

// Package log provides a single package-level structured logger, backed by
// zap, that the rest of the module logs through instead of constructing
// loggers ad hoc.
package log

import (
	"sync"

	"go.uber.org/zap"
)

// Config configures the package-level logger.
type Config struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`

	// OutputPaths are the sinks logs are written to. Defaults to stdout.
	OutputPaths []string `yaml:"output_paths"`
}

func (c Config) build() (*zap.Logger, error) {
	var zc zap.Config
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	if len(c.OutputPaths) > 0 {
		zc.OutputPaths = c.OutputPaths
	}
	if c.Level != "" {
		lvl, err := zap.ParseAtomicLevel(c.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = lvl
	}
	return zc.Build()
}

var (
	mu      sync.RWMutex
	sugared = zap.NewNop().Sugar()
)

// New installs a new package-level logger built from config and any extra
// zap options, and returns it. Most callers don't need the return value;
// it's also accessible through the package-level helpers below.
func New(config Config, opts ...zap.Option) *zap.SugaredLogger {
	l, err := config.build()
	if err != nil {
		// Logging infrastructure failing to initialize is itself
		// unloggable; fall back to a no-op logger rather than panic.
		l = zap.NewNop()
	}
	l = l.WithOptions(opts...)

	mu.Lock()
	sugared = l.Sugar()
	mu.Unlock()

	return sugared
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugared
}

// With returns a child logger with the given structured fields attached.
func With(args ...interface{}) *zap.SugaredLogger {
	return current().With(args...)
}

// Debug logs at debug level.
func Debug(args ...interface{}) { current().Debug(args...) }

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...interface{}) { current().Debugf(format, args...) }

// Info logs at info level.
func Info(args ...interface{}) { current().Info(args...) }

// Infof logs a formatted message at info level.
func Infof(format string, args ...interface{}) { current().Infof(format, args...) }

// Warn logs at warn level.
func Warn(args ...interface{}) { current().Warn(args...) }

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...interface{}) { current().Warnf(format, args...) }

// Error logs at error level.
func Error(args ...interface{}) { current().Error(args...) }

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...interface{}) { current().Errorf(format, args...) }

// Fatal logs at fatal level then calls os.Exit(1).
func Fatal(args ...interface{}) { current().Fatal(args...) }

// Fatalf logs a formatted message at fatal level then calls os.Exit(1).
func Fatalf(format string, args ...interface{}) { current().Fatalf(format, args...) }
