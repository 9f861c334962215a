package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dougsko/asiod/pkg/config"
	"gopkg.in/lumberjack.v2"
)

// LogLevel represents logging levels
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns string representation of log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel parses a string log level, defaulting to info
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Fields are extra key/value pairs attached to a log line
type Fields map[string]interface{}

// Logger writes leveled, component-tagged lines to a rotating file and/or the console
type Logger struct {
	level         LogLevel
	structured    bool
	fileLogger    *log.Logger
	consoleLogger *log.Logger
	rotatingFile  *lumberjack.Logger
}

// NewLogger creates a new logger from configuration
func NewLogger(cfg *config.Config) (*Logger, error) {
	logger := &Logger{
		level:      ParseLogLevel(cfg.Logging.Level),
		structured: cfg.Logging.Structured,
	}

	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		logger.rotatingFile = &lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSize,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAge,
			Compress:   cfg.Logging.Compress,
		}
		logger.fileLogger = log.New(logger.rotatingFile, "", 0)
	}

	// Console is always on when there is no file
	if cfg.Logging.Console || logger.fileLogger == nil {
		logger.consoleLogger = log.New(os.Stdout, "", 0)
	}

	return logger, nil
}

// NewWriterLogger logs to w only; used by tests and tools
func NewWriterLogger(w io.Writer, level LogLevel, structured bool) *Logger {
	return &Logger{
		level:         level,
		structured:    structured,
		consoleLogger: log.New(w, "", 0),
	}
}

// Close closes the rotating log file, if any
func (l *Logger) Close() error {
	if l.rotatingFile != nil {
		return l.rotatingFile.Close()
	}
	return nil
}

// Rotate forces the log file to roll over
func (l *Logger) Rotate() error {
	if l.rotatingFile == nil {
		return nil
	}
	return l.rotatingFile.Rotate()
}

func (l *Logger) shouldLog(level LogLevel) bool {
	return level >= l.level
}

func (l *Logger) formatMessage(level LogLevel, component, message string, fields Fields) string {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if l.structured {
		var b strings.Builder
		fmt.Fprintf(&b, `{"time":%q,"level":%q,"component":%q,"message":%q`,
			timestamp, level.String(), component, message)
		for _, k := range keys {
			fmt.Fprintf(&b, `,%q:%q`, k, fmt.Sprint(fields[k]))
		}
		b.WriteByte('}')
		return b.String()
	}

	line := fmt.Sprintf("%s [%s] %s: %s", timestamp, level.String(), component, message)
	if len(keys) > 0 {
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
		}
		line += " [" + strings.Join(parts, " ") + "]"
	}
	return line
}

func (l *Logger) log(level LogLevel, component, message string, fields Fields) {
	if !l.shouldLog(level) {
		return
	}

	formatted := l.formatMessage(level, component, message, fields)
	if l.fileLogger != nil {
		l.fileLogger.Println(formatted)
	}
	if l.consoleLogger != nil {
		l.consoleLogger.Println(formatted)
	}
}

func first(fields []Fields) Fields {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Debug logs a debug message
func (l *Logger) Debug(component, message string, fields ...Fields) {
	l.log(LevelDebug, component, message, first(fields))
}

// Info logs an info message
func (l *Logger) Info(component, message string, fields ...Fields) {
	l.log(LevelInfo, component, message, first(fields))
}

// Warn logs a warning message
func (l *Logger) Warn(component, message string, fields ...Fields) {
	l.log(LevelWarn, component, message, first(fields))
}

// Error logs an error message
func (l *Logger) Error(component, message string, fields ...Fields) {
	l.log(LevelError, component, message, first(fields))
}

// Writer adapts the logger to an io.Writer, one info line per write.
// gin's request logger is pointed at this.
func (l *Logger) Writer(component string) io.Writer {
	return componentWriter{logger: l, component: component}
}

type componentWriter struct {
	logger    *Logger
	component string
}

func (w componentWriter) Write(p []byte) (int, error) {
	w.logger.Info(w.component, strings.TrimRight(string(p), "\r\n"))
	return len(p), nil
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// InitGlobalLogger initializes the global logger
func InitGlobalLogger(cfg *config.Config) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return err
	}
	SetGlobalLogger(logger)
	return nil
}

// SetGlobalLogger replaces the global logger
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// GetGlobalLogger returns the global logger, falling back to stdout
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	logger := globalLogger
	globalMu.RUnlock()
	if logger != nil {
		return logger
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewWriterLogger(os.Stdout, LevelInfo, false)
	}
	return globalLogger
}

// CloseGlobalLogger closes the global logger
func CloseGlobalLogger() error {
	globalMu.RLock()
	logger := globalLogger
	globalMu.RUnlock()
	if logger != nil {
		return logger.Close()
	}
	return nil
}

func Debug(component, message string, fields ...Fields) {
	GetGlobalLogger().Debug(component, message, fields...)
}

func Info(component, message string, fields ...Fields) {
	GetGlobalLogger().Info(component, message, fields...)
}

func Warn(component, message string, fields ...Fields) {
	GetGlobalLogger().Warn(component, message, fields...)
}

func Error(component, message string, fields ...Fields) {
	GetGlobalLogger().Error(component, message, fields...)
}

func Debugf(component, format string, args ...interface{}) {
	GetGlobalLogger().Debug(component, fmt.Sprintf(format, args...))
}

func Infof(component, format string, args ...interface{}) {
	GetGlobalLogger().Info(component, fmt.Sprintf(format, args...))
}

func Warnf(component, format string, args ...interface{}) {
	GetGlobalLogger().Warn(component, fmt.Sprintf(format, args...))
}

func Errorf(component, format string, args ...interface{}) {
	GetGlobalLogger().Error(component, fmt.Sprintf(format, args...))
}
