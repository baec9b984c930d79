// Package logging builds the engine's zap loggers.
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a zap logger. When debug is true, uses development config
// (human-readable console, debug level). Otherwise uses production config
// (JSON, info level) writing to logDir/neuralfs.log when logDir is set.
func New(debug bool, logDir string) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, err
		}
		cfg.OutputPaths = []string{filepath.Join(logDir, "neuralfs.log"), "stderr"}
	}
	return cfg.Build()
}
