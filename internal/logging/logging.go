package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	// LevelDebug is the debug log level
	LevelDebug LogLevel = iota
	// LevelInfo is the info log level
	LevelInfo
	// LevelWarn is the warning log level
	LevelWarn
	// LevelError is the error log level
	LevelError
)

// Config controls the log backend.
type Config struct {
	Level    string
	JSON     bool
	File     string
	Rotation RotationConfig
}

// RotationConfig mirrors lumberjack's rotation settings.
type RotationConfig struct {
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

var (
	currentLevel LogLevel
	levelOnce    sync.Once

	backendMu sync.RWMutex
	backend   *zap.SugaredLogger
	fileSink  *lumberjack.Logger
)

// initLevel initializes the log level from environment variables
func initLevel() {
	levelOnce.Do(func() {
		// Check DEBUG environment variable first
		if debug := os.Getenv("DEBUG"); debug != "" {
			switch strings.ToLower(debug) {
			case "1", "true", "yes", "on":
				currentLevel = LevelDebug
				return
			}
		}

		currentLevel = ParseLevel(os.Getenv("LOG_LEVEL"))
	})
}

// ParseLevel converts a level name into a LogLevel. Unknown names map to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Configure replaces the log backend. It is safe to call more than once;
// a previously opened log file is closed.
func Configure(cfg Config) {
	initLevel()
	if cfg.Level != "" {
		currentLevel = ParseLevel(cfg.Level)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")

	var encoder zapcore.Encoder
	if cfg.JSON {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stdout)}

	var sink *lumberjack.Logger
	if cfg.File != "" {
		sink = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.Rotation.MaxSize,
			MaxBackups: cfg.Rotation.MaxBackups,
			MaxAge:     cfg.Rotation.MaxAge,
			Compress:   cfg.Rotation.Compress,
		}
		sinks = append(sinks, zapcore.AddSync(sink))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), zapLevel(currentLevel))

	backendMu.Lock()
	old := fileSink
	backend = zap.New(core).Sugar()
	fileSink = sink
	backendMu.Unlock()

	if old != nil {
		_ = old.Close()
	}
}

// Sync flushes buffered log entries.
func Sync() {
	_ = logger().Sync()
}

func logger() *zap.SugaredLogger {
	backendMu.RLock()
	l := backend
	backendMu.RUnlock()
	if l != nil {
		return l
	}

	Configure(Config{})
	backendMu.RLock()
	defer backendMu.RUnlock()
	return backend
}

func zapLevel(l LogLevel) zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// GetLevel returns the current log level
func GetLevel() LogLevel {
	initLevel()
	return currentLevel
}

// IsDebugEnabled returns true if debug logging is enabled
func IsDebugEnabled() bool {
	return GetLevel() <= LevelDebug
}

// Debug logs a debug message (only if DEBUG=true or LOG_LEVEL=debug)
func Debug(format string, args ...interface{}) {
	if GetLevel() <= LevelDebug {
		logger().Debugf(format, args...)
	}
}

// Info logs an info message
func Info(format string, args ...interface{}) {
	if GetLevel() <= LevelInfo {
		logger().Infof(format, args...)
	}
}

// Warn logs a warning message
func Warn(format string, args ...interface{}) {
	if GetLevel() <= LevelWarn {
		logger().Warnf(format, args...)
	}
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	if GetLevel() <= LevelError {
		logger().Errorf(format, args...)
	}
}

// Fatal logs an error message and exits
func Fatal(format string, args ...interface{}) {
	logger().Fatalf(format, args...)
}

// Logger is a component logger whose messages carry a "component" field.
type Logger struct {
	name string
}

// Named returns a component logger.
func Named(name string) *Logger {
	return &Logger{name: name}
}

// Named returns a child logger, joining names with "/".
func (l *Logger) Named(name string) *Logger {
	return &Logger{name: l.name + "/" + name}
}

func (l *Logger) sugar() *zap.SugaredLogger {
	return logger().With("component", l.name)
}

// Debug logs a debug message for the component.
func (l *Logger) Debug(format string, args ...interface{}) {
	if GetLevel() <= LevelDebug {
		l.sugar().Debugf(format, args...)
	}
}

// Info logs an info message for the component.
func (l *Logger) Info(format string, args ...interface{}) {
	if GetLevel() <= LevelInfo {
		l.sugar().Infof(format, args...)
	}
}

// Warn logs a warning for the component.
func (l *Logger) Warn(format string, args ...interface{}) {
	if GetLevel() <= LevelWarn {
		l.sugar().Warnf(format, args...)
	}
}

// Error logs an error for the component.
func (l *Logger) Error(format string, args ...interface{}) {
	if GetLevel() <= LevelError {
		l.sugar().Errorf(format, args...)
	}
}

// Infow logs msg with alternating key/value fields, e.g.
// Infow("request", "status", 200, "duration_ms", 12).
func (l *Logger) Infow(msg string, keysAndValues ...interface{}) {
	if GetLevel() <= LevelInfo {
		l.sugar().Infow(msg, keysAndValues...)
	}
}

// Warnw is Infow at warn level.
func (l *Logger) Warnw(msg string, keysAndValues ...interface{}) {
	if GetLevel() <= LevelWarn {
		l.sugar().Warnw(msg, keysAndValues...)
	}
}

// String returns the string representation of a log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", l)
	}
}
