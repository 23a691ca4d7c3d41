package utils

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// DefaultLogLevel is used when no level is configured.
	DefaultLogLevel = "warn"

	errorParseLogLevelFormat = "parsing log level %q: %w"
)

// NewApplicationLogger constructs a zap logger configured for human-readable
// console output on stderr at the given level.
func NewApplicationLogger(level string) (*zap.Logger, error) {
	trimmedLevel := strings.TrimSpace(level)
	if trimmedLevel == "" {
		trimmedLevel = DefaultLogLevel
	}
	atomicLevel, parseError := zap.ParseAtomicLevel(trimmedLevel)
	if parseError != nil {
		return nil, fmt.Errorf(errorParseLogLevelFormat, trimmedLevel, parseError)
	}

	config := zap.NewProductionConfig()
	config.Level = atomicLevel
	config.Encoding = "console"
	config.DisableCaller = true
	config.DisableStacktrace = true
	config.Sampling = nil
	config.OutputPaths = []string{"stderr"}
	config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	config.EncoderConfig.TimeKey = ""
	config.EncoderConfig.NameKey = ""
	config.EncoderConfig.CallerKey = ""
	config.EncoderConfig.MessageKey = "message"
	config.EncoderConfig.StacktraceKey = ""
	return config.Build()
}
