package session

import (
	"fmt"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOptions configures the session loggers.
type LogOptions struct {
	Level      string
	MaxSizeMB  int
	MaxBackups int
}

// NewLogger creates a logger that writes human readable lines to console and
// JSON lines to the session log file. The returned closer closes the log
// file.
func NewLogger(
	s *Session,
	opts LogOptions,
	console io.Writer,
) (*zap.Logger, io.Closer, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		var err error

		level, err = zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
	}

	file := &lumberjack.Logger{
		Filename:   s.LogPath(),
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")

	fileCfg := zap.NewProductionEncoderConfig()
	fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleCfg),
			zapcore.Lock(zapcore.AddSync(console)),
			level),
		zapcore.NewCore(
			zapcore.NewJSONEncoder(fileCfg),
			zapcore.AddSync(file),
			level),
	)

	logger := zap.New(core).With(zap.String("session", s.ID))

	return logger, file, nil
}
