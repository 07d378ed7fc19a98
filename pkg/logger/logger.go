package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Log   *zap.Logger
	Sugar *zap.SugaredLogger
)

func init() {
	levelStr := strings.TrimSpace(os.Getenv("LINKCHAT_LOG_LEVEL"))
	if levelStr == "" {
		levelStr = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	}
	set(zapcore.AddSync(os.Stderr), parseLevel(levelStr))
}

// Init reconfigures the global logger. An empty file keeps logging on stderr;
// otherwise output is appended to file so an interactive terminal stays clean.
func Init(level, file string) error {
	sink := zapcore.AddSync(os.Stderr)
	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		sink = zapcore.AddSync(f)
	}
	set(sink, parseLevel(level))
	return nil
}

func set(sink zapcore.WriteSyncer, level zapcore.Level) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006/01/02 15:04:05"))
	}
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), sink, level)

	Log = zap.New(core, zap.AddCaller())
	Sugar = Log.Sugar()
}

func parseLevel(s string) zapcore.Level {
	level := zapcore.InfoLevel
	if s != "" {
		_ = level.UnmarshalText([]byte(strings.ToLower(s)))
	}
	return level
}
