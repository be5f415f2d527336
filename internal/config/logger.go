package config

import (
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger from log.development and log.level.
func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if viper.GetBool("log.development") {
		cfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(viper.GetString("log.level"))
	if err != nil {
		return nil, err
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	return cfg.Build()
}
