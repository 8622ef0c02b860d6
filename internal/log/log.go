// Package log is the application logger, a printf style facade over zap.
// Library packages log through hclog and are handed their logger by the application.
package log

import (
	"context"
	"sync/atomic"

	"github.com/pbinitiative/zenflow/internal/appcontext"
	"github.com/pbinitiative/zenflow/internal/profile"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var current atomic.Pointer[zap.SugaredLogger]

func init() {
	current.Store(zap.NewNop().Sugar())
}

// Init builds the logger for the current profile.
func Init() {
	var conf zap.Config
	if profile.Current == profile.PROD {
		conf = zap.NewProductionConfig()
	} else {
		conf = zap.NewDevelopmentConfig()
		conf.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	logger, err := conf.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(err)
	}
	Replace(logger)
}

// Replace swaps the underlying logger.
func Replace(logger *zap.Logger) {
	current.Store(logger.Sugar())
}

func Sync() {
	_ = current.Load().Sync()
}

func withContext(ctx context.Context) *zap.SugaredLogger {
	logger := current.Load()
	if id, ok := appcontext.RequestId(ctx); ok {
		logger = logger.With("requestId", id)
	}
	if key, ok := appcontext.ProcessInstanceKey(ctx); ok {
		logger = logger.With("processInstanceKey", key)
	}
	return logger
}

func Debug(format string, args ...any) {
	current.Load().Debugf(format, args...)
}

func Debugf(ctx context.Context, format string, args ...any) {
	withContext(ctx).Debugf(format, args...)
}

func Info(format string, args ...any) {
	current.Load().Infof(format, args...)
}

func Infof(ctx context.Context, format string, args ...any) {
	withContext(ctx).Infof(format, args...)
}

func Warn(format string, args ...any) {
	current.Load().Warnf(format, args...)
}

func Error(format string, args ...any) {
	current.Load().Errorf(format, args...)
}

func Errorf(ctx context.Context, format string, args ...any) {
	withContext(ctx).Errorf(format, args...)
}
