package logging

import (
	"fmt"
	"os"

	"github.com/leighmacdonald/pfp/internal/settings"
	"github.com/leighmacdonald/pfp/pkg/util"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// MustCreateLogger builds the root logger for the configured run mode. When debug logging is
// enabled output is also written to logFilePath, which is truncated first.
func MustCreateLogger(conf settings.Config, logFilePath string) *zap.Logger {
	var loggingConfig zap.Config

	switch conf.RunMode {
	case settings.ModeProd:
		loggingConfig = zap.NewProductionConfig()
		loggingConfig.DisableCaller = true
	case settings.ModeDebug:
		loggingConfig = zap.NewDevelopmentConfig()
		loggingConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case settings.ModeTest:
		return zap.NewNop()
	default:
		panic(fmt.Sprintf("Unknown run mode: %s", conf.RunMode))
	}

	if conf.DebugLogEnabled && logFilePath != "" {
		if util.Exists(logFilePath) {
			if err := os.Remove(logFilePath); err != nil {
				panic(fmt.Sprintf("Failed to remove log file: %v", err))
			}
		}

		loggingConfig.OutputPaths = append(loggingConfig.OutputPaths, logFilePath)
	}

	level, errLevel := zap.ParseAtomicLevel(conf.LogLevel)
	if errLevel != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", errLevel))
	}

	loggingConfig.Level.SetLevel(level.Level())

	l, errLogger := loggingConfig.Build()
	if errLogger != nil {
		panic("Failed to create log config")
	}

	return l.Named("pfp")
}
