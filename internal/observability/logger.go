package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultLogLevel = "info"

// NewLogger builds a JSON production logger at the requested level.
func NewLogger(level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "ts"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = defaultLogLevel
	}
	if err := config.Level.UnmarshalText([]byte(normalized)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("zap init: %w", err)
	}
	return logger.With(zap.String("service", "atelier")), nil
}
