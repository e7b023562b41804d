/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package log builds the process logger shared by both binaries.
package log

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a logger at the requested verbosity or panics. Debug level
// selects the development config for readable local output.
func NewLogger(level string) *zap.SugaredLogger {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		panic(fmt.Sprintf("parsing log level %q, %s", level, err))
	}
	cfg := zap.NewProductionConfig()
	if parsed == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("building logger, %s", err))
	}
	return logger.Sugar()
}
