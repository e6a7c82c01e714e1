package logging

import (
	"fmt"

	"github.com/zephyr-analytics/zephscan/pkg/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var levels = map[string]zapcore.Level{
	"debug": zap.DebugLevel,
	"info":  zap.InfoLevel,
	"warn":  zap.WarnLevel,
	"error": zap.ErrorLevel,
}

// New builds the process logger from LOG_LEVEL and LOG_ENCODING.
func New() (*zap.Logger, error) {
	return Build(utils.Env("LOG_LEVEL", "info"), utils.Env("LOG_ENCODING", "json"))
}

// Validate rejects a level or encoding Build cannot use. An empty level means info.
func Validate(level, encoding string) error {
	if _, ok := levels[level]; !ok && level != "" {
		return fmt.Errorf("unknown log level %q", level)
	}
	switch encoding {
	case "json", "console":
		return nil
	}
	return fmt.Errorf("unknown log encoding %q", encoding)
}

// Build returns a production zap logger for the given level and encoding. Logs go to stderr
// so stdout stays free for command output.
func Build(level, encoding string) (*zap.Logger, error) {
	if err := Validate(level, encoding); err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = encoding
	lvl, ok := levels[level]
	if !ok {
		lvl = zap.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Development = lvl == zap.DebugLevel

	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	// sampling would drop per-height skip lines
	cfg.Sampling = nil
	return cfg.Build()
}
