// Package logging builds the zap logger shared by the crawler and the
// HTTP server.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a named zap.Logger. Development mode uses the colored
// console encoder at debug level; production emits JSON at info level
// with sampling disabled so per-page crawl events are not dropped.
func New(development bool) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Sampling = nil
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build %s logger: %w", mode(development), err)
	}
	return logger.Named("bowatch"), nil
}

func mode(development bool) string {
	if development {
		return "development"
	}
	return "production"
}
