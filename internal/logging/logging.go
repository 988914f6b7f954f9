package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ragagent/internal/config"
)

// New builds a zap logger from the logging section. The console format is
// meant for terminals; json is for services.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	// keep stdout free for program output
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
