package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newConfig(env string) zap.Config {
	var config zap.Config

	if env == "prod" {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder

	return config
}

// NewLogger builds the service logger. Store operations log successes at debug,
// so production only sees failures and lifecycle events.
func NewLogger(env string) (*zap.Logger, error) {
	return newConfig(env).Build(zap.Fields(zap.String("service", "cachekit")))
}

func NewSugar(env string) (*zap.SugaredLogger, error) {
	logger, err := NewLogger(env)
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
