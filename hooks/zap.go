package hooks

import (
	"go.uber.org/zap"
)

// ZapLogger adapts a sugared zap logger to core.Logger.
type ZapLogger struct {
	log *zap.SugaredLogger
}

// NewZapLogger builds a zap logger for env: production JSON for "prod" or
// "production", the example logger for "test", development otherwise.
func NewZapLogger(env, level string) (*ZapLogger, error) {
	var (
		l   *zap.Logger
		err error
	)
	switch env {
	case "prod", "production":
		cfg := zap.NewProductionConfig()
		if level != "" {
			if cfg.Level, err = zap.ParseAtomicLevel(level); err != nil {
				return nil, err
			}
		}
		l, err = cfg.Build()
	case "test":
		l = zap.NewExample()
	default:
		cfg := zap.NewDevelopmentConfig()
		if level != "" {
			if cfg.Level, err = zap.ParseAtomicLevel(level); err != nil {
				return nil, err
			}
		}
		l, err = cfg.Build()
	}
	if err != nil {
		return nil, err
	}
	return &ZapLogger{log: l.Sugar()}, nil
}

// WrapZap adapts an existing zap logger.
func WrapZap(l *zap.Logger) *ZapLogger { return &ZapLogger{log: l.Sugar()} }

func (z *ZapLogger) Debug(msg string, fields ...interface{}) { z.log.Debugw(msg, fields...) }
func (z *ZapLogger) Info(msg string, fields ...interface{})  { z.log.Infow(msg, fields...) }
func (z *ZapLogger) Warn(msg string, fields ...interface{})  { z.log.Warnw(msg, fields...) }
func (z *ZapLogger) Error(msg string, fields ...interface{}) { z.log.Errorw(msg, fields...) }

// Sync flushes buffered log entries.
func (z *ZapLogger) Sync() error { return z.log.Sync() }
