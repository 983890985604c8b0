// Package telemetry sets up the *zap.Logger threaded through every
// other package's constructors, grounded on the teacher's
// defaultOptions() (zap.NewDevelopment()) and eval/pkg/cluster.go's
// per-node logger (zap.NewDevelopment().With(zap.String("peer-id", id))).
package telemetry

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger for the given level name ("debug", "info",
// "warn", "error"; empty defaults to "info"). development selects
// zap's human-readable console encoding over JSON, matching the
// teacher's always-development logger but making it switchable for a
// production deployment.
func New(level string, development bool) (*zap.Logger, error) {
	var lvl zapcore.Level
	if level == "" {
		level = "info"
	}
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("telemetry: invalid log level %q: %w", level, err)
	}

	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(lvl)
		return cfg.Build()
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// WithPeer scopes logger to a single mesh peer id, matching the
// teacher's eval cluster tagging each node's logger with its id.
func WithPeer(logger *zap.Logger, id string) *zap.Logger {
	return logger.With(zap.String("peer-id", id))
}
