package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "INFO"
	}
}

// toLogrusLevel converts LogLevel to logrus.Level
func (l LogLevel) toLogrusLevel() logrus.Level {
	switch l {
	case DebugLevel:
		return logrus.DebugLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// ParseLogLevel parses a log level name, falling back to InfoLevel
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// LogEntry holds the fields every record carries. Records whose extra fields
// cannot be encoded are reduced to a LogEntry with LogError set.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Service   string `json:"service"`
	Message   string `json:"message"`
	TraceID   string `json:"trace_id,omitempty"`
	SpanID    string `json:"span_id,omitempty"`
	LogError  string `json:"log_error,omitempty"`
}

// Logger provides structured JSON logging on top of logrus. Records carry the
// service name and, when built from a context holding a span, its trace identity.
type Logger struct {
	entry   *logrus.Entry
	level   LogLevel
	service string
}

// NewLogger creates a new structured logger writing one JSON object per line
func NewLogger(service string, level LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	base := logrus.New()
	base.Out = output
	base.Level = level.toLogrusLevel()
	base.Formatter = &recordFormatter{service: service}
	base.AddHook(traceHook{})

	return &Logger{
		entry:   logrus.NewEntry(base),
		level:   level,
		service: service,
	}
}

// Service returns the service name stamped on every record
func (l *Logger) Service() string {
	return l.service
}

func (l *Logger) derive(entry *logrus.Entry) *Logger {
	return &Logger{entry: entry, level: l.level, service: l.service}
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.derive(l.entry.WithField(key, value))
}

// WithFields adds multiple fields to the logger context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return l.derive(l.entry.WithFields(logrus.Fields(fields)))
}

// WithError adds an error to the logger context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

// WithContext binds a request context. Records emitted through the returned
// logger carry trace_id and span_id of the span stored in ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	return l.derive(l.entry.WithContext(ctx))
}

// Log emits one record at the given level
func (l *Logger) Log(level LogLevel, message string, fields map[string]interface{}) {
	entry := l.entry
	if len(fields) > 0 {
		entry = entry.WithFields(logrus.Fields(fields))
	}
	entry.Log(level.toLogrusLevel(), message)
}

// Debug logs a debug message
func (l *Logger) Debug(message string) {
	l.entry.Debug(message)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

// Info logs an info message
func (l *Logger) Info(message string) {
	l.entry.Info(message)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(message string) {
	l.entry.Warn(message)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(message string) {
	l.entry.Error(message)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// traceHook copies the identity of the span held by the entry's context.
type traceHook struct{}

func (traceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (traceHook) Fire(entry *logrus.Entry) error {
	if entry.Context == nil {
		return nil
	}
	span := SpanFromContext(entry.Context)
	if span == nil {
		return nil
	}
	entry.Data["trace_id"] = span.TraceID().String()
	entry.Data["span_id"] = span.SpanID().String()
	return nil
}

// recordFormatter renders entries as single-line JSON records. It never
// returns an error: if the fields cannot be encoded a minimal record is
// produced instead, so a logging call cannot fail the request it observes.
type recordFormatter struct {
	service string
}

func (f *recordFormatter) Format(entry *logrus.Entry) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = f.fallback(entry, fmt.Sprintf("panic while formatting: %v", r)), nil
		}
	}()

	data := make(map[string]interface{}, len(entry.Data)+4)
	for k, v := range entry.Data {
		if e, ok := v.(error); ok {
			v = e.Error()
		}
		data[k] = v
	}
	data["timestamp"] = entry.Time.UTC().Format(time.RFC3339Nano)
	data["level"] = levelName(entry.Level)
	data["service"] = f.service
	data["message"] = entry.Message

	encoded, marshalErr := json.Marshal(data)
	if marshalErr != nil {
		return f.fallback(entry, marshalErr.Error()), nil
	}
	return append(encoded, '\n'), nil
}

func (f *recordFormatter) fallback(entry *logrus.Entry, reason string) []byte {
	record := LogEntry{
		Timestamp: entry.Time.UTC().Format(time.RFC3339Nano),
		Level:     levelName(entry.Level),
		Service:   f.service,
		Message:   entry.Message,
		LogError:  reason,
	}
	record.TraceID, _ = entry.Data["trace_id"].(string)
	record.SpanID, _ = entry.Data["span_id"].(string)
	// only strings: always encodes
	encoded, _ := json.Marshal(record)
	return append(encoded, '\n')
}

func levelName(level logrus.Level) string {
	switch level {
	case logrus.TraceLevel, logrus.DebugLevel:
		return DebugLevel.String()
	case logrus.InfoLevel:
		return InfoLevel.String()
	case logrus.WarnLevel:
		return WarnLevel.String()
	default:
		return ErrorLevel.String()
	}
}

// contextKey is the type for context keys
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// LoggerKey is the context key for the logger
	LoggerKey contextKey = "logger"
	// spanKey is the context key for the request span
	spanKey contextKey = "span"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetLogger retrieves the logger from context
func GetLogger(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerKey).(*Logger); ok {
		return logger
	}
	return NewLogger("backend", InfoLevel, os.Stdout)
}

// FromContext returns the context logger bound to ctx, carrying the request ID
// and the trace identity of the request span.
func FromContext(ctx context.Context) *Logger {
	logger := GetLogger(ctx).WithContext(ctx)

	if requestID := GetRequestID(ctx); requestID != "" {
		logger = logger.WithField("request_id", requestID)
	}

	return logger
}
