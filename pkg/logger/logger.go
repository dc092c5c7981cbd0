package logger

import (
	"os"
	"sync"

	"avatarlink/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	Log   *zap.Logger
	Sugar *zap.SugaredLogger
	once  sync.Once
)

// BracketEncoder 自定义 encoder，字段之间用方括号分隔
type BracketEncoder struct {
	zapcore.Encoder
	pool buffer.Pool
}

// DefaultLogConfig returns default rotation configuration
func DefaultLogConfig() config.LogConfig {
	return config.LogConfig{
		Level:      "info",
		File:       "logs/avatarlink.log",
		MaxSize:    100, // 100 MB
		MaxBackups: 5,   // keep 5 backups
		MaxAge:     30,  // 30 days
		Compress:   true,
	}
}

func NewBracketEncoder(config zapcore.EncoderConfig) zapcore.Encoder {
	return &BracketEncoder{
		Encoder: zapcore.NewJSONEncoder(config),
		pool:    buffer.NewPool(),
	}
}

func (e *BracketEncoder) Clone() zapcore.Encoder {
	return &BracketEncoder{
		Encoder: e.Encoder.Clone(),
		pool:    e.pool,
	}
}

func (e *BracketEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	buf := e.pool.Get()

	// Timestamp
	buf.AppendString("[")
	buf.AppendString(entry.Time.Format("2006-01-02T15:04:05.000-0700"))
	buf.AppendString("]")

	// Level
	buf.AppendString("[")
	buf.AppendString(entry.Level.CapitalString())
	buf.AppendString("]")

	// Caller (file and line)
	buf.AppendString("[")
	buf.AppendString(entry.Caller.TrimmedPath())
	buf.AppendString("]")

	// Message
	buf.AppendString(" ")
	buf.AppendString(entry.Message)

	buf.AppendString("\n")

	return buf, nil
}

// InitLogger initializes the global logger instance
// logLevel: "debug", "info", "warn", "error", "dpanic", "panic", "fatal"
// 如果 File 为空则只输出到 stdout
func InitLogger(cfg *config.LogConfig) {
	once.Do(func() {
		if cfg == nil {
			defaultConfig := DefaultLogConfig()
			cfg = &defaultConfig
		}

		// Parse log level
		level := zap.InfoLevel
		err := level.Set(cfg.Level)
		if err != nil {
			level = zap.InfoLevel
		}

		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "time"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

		var core zapcore.Core

		if cfg.File == "" {
			core = zapcore.NewCore(
				NewBracketEncoder(encoderConfig),
				zapcore.AddSync(os.Stdout),
				zap.NewAtomicLevelAt(level),
			)
		} else {
			rotator := &lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    cfg.MaxSize, // megabytes
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge, // days
				Compress:   cfg.Compress,
			}

			stdoutCore := zapcore.NewCore(
				NewBracketEncoder(encoderConfig),
				zapcore.AddSync(os.Stdout),
				zap.NewAtomicLevelAt(level),
			)

			fileCore := zapcore.NewCore(
				NewBracketEncoder(encoderConfig),
				zapcore.AddSync(rotator),
				zap.NewAtomicLevelAt(level),
			)

			core = zapcore.NewTee(stdoutCore, fileCore)
		}

		Log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
		Sugar = Log.Sugar()
	})
}

// Debug logs a message at debug level
func Debug(msg string, fields ...interface{}) {
	Sugar.Debugf(msg, fields...)
}

// Info logs a message at info level
func Info(msg string, fields ...interface{}) {
	Sugar.Infof(msg, fields...)
}

// Warn logs a message at warn level
func Warn(msg string, fields ...interface{}) {
	Sugar.Warnf(msg, fields...)
}

// Error logs a message at error level
func Error(msg string, fields ...interface{}) {
	Sugar.Errorf(msg, fields...)
}

// Fatal logs a message at fatal level
func Fatal(msg string, fields ...interface{}) {
	Sugar.Fatalf(msg, fields...)
}

// With returns a logger with the specified fields
func With(fields ...zap.Field) *zap.Logger {
	return Log.With(fields...)
}

// Named returns a logger with the specified name
func Named(name string) *zap.Logger {
	return Log.Named(name)
}

// Sync flushes any buffered log entries
func Sync() error {
	return Log.Sync()
}
