// Package logging adapts go.uber.org/zap to es.Logger.
package logging

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/getpup/sigledger/es"
)

// Zap is an es.Logger backed by a zap.SugaredLogger.
type Zap struct {
	sugar *zap.SugaredLogger
}

var _ es.Logger = (*Zap)(nil)

// NewZap wraps logger.
func NewZap(logger *zap.Logger) *Zap {
	return &Zap{sugar: logger.Sugar()}
}

// New builds a zap logger. format is "json" (production encoder) or
// "console" (development encoder). level is any zap level name.
func New(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "", "json":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q: want json or console", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

// Debug implements es.Logger.
func (z *Zap) Debug(_ context.Context, msg string, keyvals ...interface{}) {
	z.sugar.Debugw(msg, keyvals...)
}

// Info implements es.Logger.
func (z *Zap) Info(_ context.Context, msg string, keyvals ...interface{}) {
	z.sugar.Infow(msg, keyvals...)
}

// Warn implements es.Logger.
func (z *Zap) Warn(_ context.Context, msg string, keyvals ...interface{}) {
	z.sugar.Warnw(msg, keyvals...)
}

// Error implements es.Logger.
func (z *Zap) Error(_ context.Context, msg string, keyvals ...interface{}) {
	z.sugar.Errorw(msg, keyvals...)
}

// Sync flushes buffered entries.
func (z *Zap) Sync() error {
	return z.sugar.Sync()
}
