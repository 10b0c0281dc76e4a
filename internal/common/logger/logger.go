package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
)

// Logger takes a message plus alternating key/value fields. A field named
// "error" holding an error is logged as the entry's error.
type Logger interface {
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Debug(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	// With returns a child logger that adds the given fields to every entry.
	With(fields ...interface{}) Logger
}

type zlogger struct {
	zl zerolog.Logger
}

type LoggerConfig struct {
	Level zerolog.Level
	// Console writes to stdout, human readable unless JSON is set.
	Console bool
	JSON    bool
	// File appends JSON lines to FilePath, rotated by lumberjack.
	File            bool
	FilePath        string
	MaxSizeMB       int
	MaxBackups      int
	MaxAgeDays      int
	Compress        bool
	TimeFieldFormat string
}

func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Level:           zerolog.InfoLevel,
		Console:         true,
		File:            true,
		FilePath:        "schedule-ingest.log",
		MaxSizeMB:       10,
		MaxBackups:      5,
		MaxAgeDays:      30,
		Compress:        true,
		TimeFieldFormat: time.RFC3339,
	}
}

// New logs JSON lines to the given writers at debug level.
func New(writers ...io.Writer) Logger {
	zl := zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger()
	return &zlogger{zl: zl}
}

func NewFromConfig(cfg LoggerConfig) Logger {
	if cfg.TimeFieldFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFieldFormat
	}
	zl := zerolog.New(writersFor(cfg)).With().Timestamp().Logger().Level(cfg.Level)
	return &zlogger{zl: zl}
}

func writersFor(cfg LoggerConfig) io.Writer {
	var writers []io.Writer
	switch {
	case cfg.Console && cfg.JSON:
		writers = append(writers, os.Stdout)
	case cfg.Console:
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: cfg.TimeFieldFormat})
	}
	if cfg.File && cfg.FilePath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB, // megabytes
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays, // days
			Compress:   cfg.Compress,
		})
	}
	if len(writers) == 0 {
		return io.Discard
	}
	return io.MultiWriter(writers...)
}

// Nop discards everything.
func Nop() Logger {
	return &zlogger{zl: zerolog.Nop()}
}

// ParseLogLevel maps LOG_LEVEL values to zerolog levels. Anything
// unrecognised is info.
func ParseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *zlogger) Info(msg string, fields ...interface{}) {
	withFields(l.zl.Info(), fields).Msg(msg)
}

func (l *zlogger) Warn(msg string, fields ...interface{}) {
	withFields(l.zl.Warn(), fields).Msg(msg)
}

func (l *zlogger) Error(msg string, fields ...interface{}) {
	withFields(l.zl.Error(), fields).Msg(msg)
}

func (l *zlogger) Debug(msg string, fields ...interface{}) {
	withFields(l.zl.Debug(), fields).Msg(msg)
}

// Fatal exits the process after writing the entry.
func (l *zlogger) Fatal(msg string, fields ...interface{}) {
	withFields(l.zl.Fatal(), fields).Msg(msg)
}

func (l *zlogger) With(fields ...interface{}) Logger {
	ctx := l.zl.With()
	eachField(fields, func(key string, value interface{}) {
		if err, ok := value.(error); ok && key == "error" {
			ctx = ctx.AnErr(zerolog.ErrorFieldName, err)
			return
		}
		ctx = ctx.Interface(key, value)
	})
	return &zlogger{zl: ctx.Logger()}
}

func withFields(event *zerolog.Event, fields []interface{}) *zerolog.Event {
	eachField(fields, func(key string, value interface{}) {
		if err, ok := value.(error); ok && key == "error" {
			event = event.Err(err)
			return
		}
		event = event.Interface(key, value)
	})
	return event
}

// eachField walks key/value pairs, or a single map argument. Non-string keys
// and a trailing key without a value are dropped.
func eachField(fields []interface{}, fn func(key string, value interface{})) {
	if len(fields) == 1 {
		if m, ok := fields[0].(map[string]interface{}); ok {
			for k, v := range m {
				fn(k, v)
			}
			return
		}
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		fn(key, fields[i+1])
	}
}
