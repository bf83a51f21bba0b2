// Copyright 2021 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logutil is the process-wide structured logger, a thin wrapper
// over zap matching pkg/logutil's role in the teacher.
package logutil

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	global *zap.Logger
)

func init() {
	global, _ = zap.NewProduction()
}

// SetLogger replaces the process-wide logger, e.g. with a development
// logger in tests or a custom sink in cmd/fusionbench.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	global = l
}

func logger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

func Debug(msg string, fields ...zap.Field) { logger().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { logger().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { logger().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { logger().Error(msg, fields...) }

func Debugf(format string, args ...any) { logger().Sugar().Debugf(format, args...) }
func Infof(format string, args ...any)  { logger().Sugar().Infof(format, args...) }
func Warnf(format string, args ...any)  { logger().Sugar().Warnf(format, args...) }
func Errorf(format string, args ...any) { logger().Sugar().Errorf(format, args...) }
