// common/logger/zap_config.go
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// buildZapConfig: dev → консоль, prod → JSON с семплингом. Ключи одинаковые.
func buildZapConfig(dev bool) zap.Config {
	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
		cfg.EncoderConfig.StacktraceKey = "stacktrace"
	}
	unifyEncoder(&cfg.EncoderConfig)
	return cfg
}

func unifyEncoder(ec *zapcore.EncoderConfig) {
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.CallerKey = "caller"
	ec.EncodeCaller = zapcore.ShortCallerEncoder
}

func setZapLevel(cfg *zap.Config, level string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return err
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return nil
}
