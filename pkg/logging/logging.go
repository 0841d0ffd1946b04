package logging

import (
	"github.com/canopy-network/exposure/pkg/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. Every entry carries the indexer id so output from
// several indexers sharing a collector can be told apart.
//
// Logs go to stderr unless LOG_OUTPUT says otherwise: stdout belongs to the stdout sink.
func New(indexerID string) (*zap.Logger, error) {
	encoding := utils.Env("LOG_ENCODING", "json")

	cfg := zap.NewProductionConfig()
	cfg.Encoding = encoding
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(utils.Env("LOG_LEVEL", "info")))
	cfg.Development = cfg.Level.Level() == zap.DebugLevel
	cfg.OutputPaths = []string{utils.Env("LOG_OUTPUT", "stderr")}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if encoding == "console" {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if indexerID != "" {
		l = l.With(zap.String("indexerId", indexerID))
	}
	return l, nil
}

func parseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zap.InfoLevel
	}
	return lvl
}
