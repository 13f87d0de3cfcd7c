package logger

import (
	"imagecache/pkg/models"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	zap  *zap.Logger
	file *os.File
}

func NewLogger(cfg *models.LogConfig) (*Logger, error) {
	var writers []io.Writer

	if cfg.ToStdout {
		writers = append(writers, os.Stdout)
	}

	var file *os.File
	if cfg.ToFile {
		if cfg.FilePath == "" {
			cfg.FilePath = "imagecache.log"
		}
		dir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}

		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		file = f
		writers = append(writers, f)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == models.LOG_FORMAT_JSON {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	level := zapcore.InfoLevel
	if cfg.DebugEnabled {
		level = zapcore.DebugLevel
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(io.MultiWriter(writers...)), level)

	return &Logger{
		zap:  zap.New(core).Named(cfg.Prefix),
		file: file,
	}, nil
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{zap: zap.NewNop()}
}

func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.zap.Info(msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.zap.Warn(msg, fields...)
}

func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.zap.Debug(msg, fields...)
}

func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.zap.Error(msg, fields...)
}

func (l *Logger) Close() error {
	// Sync on a terminal stdout returns EINVAL on linux, nothing to report there.
	_ = l.zap.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
