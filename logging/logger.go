package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// GlobalLogger describes a Logger that is disabled by default and is replaced with a configured instance when the
// application starts. Each package should create its own sub-logger so that log output is grep-able by module.
var GlobalLogger = NewLogger(zerolog.Disabled, false)

// Logger wraps a pair of zerolog loggers: one for structured output to arbitrary writers (e.g. a log file) and one
// for human-readable console output.
type Logger struct {
	// level describes the log level both underlying loggers are filtered at.
	level zerolog.Level

	// structuredLogger emits timestamped JSON log events to every writer in writers.
	structuredLogger zerolog.Logger

	// consoleLogger emits unstructured, console-formatted log events to stdout.
	consoleLogger zerolog.Logger

	// writers describes the list of io.Writer objects that structured log output is sent to.
	writers []io.Writer
}

// StructuredLogInfo describes a key-value mapping that can be attached to a log event as structured data.
type StructuredLogInfo map[string]any

// NewLogger creates a Logger with the given log level. Console output is emitted to stdout when consoleEnabled is
// set; structured output is emitted to each provided writer.
func NewLogger(level zerolog.Level, consoleEnabled bool, writers ...io.Writer) *Logger {
	// Both base loggers start out disabled so that an unconfigured Logger is safe to call.
	structuredLogger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	consoleLogger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	if len(writers) > 0 {
		structuredLogger = zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	}

	if consoleEnabled {
		consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout}
		// Timestamps are noise on a console; the structured writers keep them.
		consoleWriter.FormatTimestamp = func(i interface{}) string { return "" }
		consoleLogger = zerolog.New(consoleWriter).Level(level)
	}

	return &Logger{
		level:            level,
		structuredLogger: structuredLogger,
		consoleLogger:    consoleLogger,
		writers:          writers,
	}
}

// NewSubLogger creates a new Logger that attaches the given key-value pair to every event. The expected use is one
// sub-logger per package, keyed on "module".
func (l *Logger) NewSubLogger(key string, value string) *Logger {
	return &Logger{
		level:            l.level,
		structuredLogger: l.structuredLogger.With().Str(key, value).Logger(),
		consoleLogger:    l.consoleLogger.With().Str(key, value).Logger(),
		writers:          l.writers,
	}
}

// AddWriter adds a writer to the set of structured output channels. Adding a writer that is already registered is a
// no-op.
func (l *Logger) AddWriter(writer io.Writer) {
	for _, w := range l.writers {
		if writer == w {
			return
		}
	}
	l.writers = append(l.writers, writer)
	l.structuredLogger = zerolog.New(zerolog.MultiLevelWriter(l.writers...)).Level(l.level).With().Timestamp().Logger()
}

// Level returns the log level of the Logger.
func (l *Logger) Level() zerolog.Level {
	return l.level
}

// SetLevel updates the log level of the Logger.
func (l *Logger) SetLevel(level zerolog.Level) {
	l.level = level
	l.structuredLogger = l.structuredLogger.Level(level)
	l.consoleLogger = l.consoleLogger.Level(level)
}

// Trace logs a trace event.
func (l *Logger) Trace(args ...any) {
	l.log(l.consoleLogger.Trace(), l.structuredLogger.Trace(), args...)
}

// Debug logs a debug event.
func (l *Logger) Debug(args ...any) {
	l.log(l.consoleLogger.Debug(), l.structuredLogger.Debug(), args...)
}

// Info logs an info event.
func (l *Logger) Info(args ...any) {
	l.log(l.consoleLogger.Info(), l.structuredLogger.Info(), args...)
}

// Warn logs a warning event.
func (l *Logger) Warn(args ...any) {
	l.log(l.consoleLogger.Warn(), l.structuredLogger.Warn(), args...)
}

// Error logs an error event.
func (l *Logger) Error(args ...any) {
	l.log(l.consoleLogger.Error(), l.structuredLogger.Error(), args...)
}

// Panic logs a panic event and then panics.
func (l *Logger) Panic(args ...any) {
	l.log(l.consoleLogger.Panic(), l.structuredLogger.Panic(), args...)
}

// log builds the message out of the variadic argument list and sends the event to both the console and structured
// channels. Arguments of type error and StructuredLogInfo are attached to the events rather than appended to the
// message; at most one of each is honored per call.
func (l *Logger) log(consoleEvent *zerolog.Event, structuredEvent *zerolog.Event, args ...any) {
	var (
		parts []string
		err   error
		info  StructuredLogInfo
	)
	for _, arg := range args {
		switch t := arg.(type) {
		case error:
			err = t
		case StructuredLogInfo:
			info = t
		default:
			parts = append(parts, fmt.Sprintf("%v", t))
		}
	}

	consoleEvent.Err(err)
	structuredEvent.Err(err)
	if l.level <= zerolog.DebugLevel {
		consoleEvent.Stack()
		structuredEvent.Stack()
	}
	if info != nil {
		consoleEvent.Any("info", info)
		structuredEvent.Any("info", info)
	}

	msg := strings.Join(parts, "")
	// The structured message is deferred so every channel still receives the event if a panic-level log unwinds.
	defer structuredEvent.Msg(msg)
	consoleEvent.Msg(msg)
}
