// Package logger wraps zerolog behind a small interface so components can be
// handed a tagged logger and tests can run silently.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/profilectl/internal/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

var log = zerolog.Nop()

type LogLevel int8

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

// ParseLevel maps a configured level name to a LogLevel.
func ParseLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	}

	return InfoLevel, errors.New().WithData(errors.ErrInvalidLogLevel, level)
}

// Init initializes the logger based on the given configuration
func Init(level string, isService bool) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}

	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	// journald stamps lines itself
	if isService {
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	log = zerolog.New(output).With().Timestamp().Logger()
	SetLogLevel(lvl)

	return nil
}

// InitWriter points the logger at an arbitrary writer with JSON output.
func InitWriter(w io.Writer, lvl LogLevel) {
	log = zerolog.New(w).With().Timestamp().Logger()
	SetLogLevel(lvl)
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return unix.Getpgrp() == unix.Getpid()
}

// Debug logs a debug message
func Debug() *LogEvent {
	return &LogEvent{log.Debug()}
}

// Info logs an info message
func Info() *LogEvent {
	return &LogEvent{log.Info()}
}

// Warn logs a warning message
func Warn() *LogEvent {
	return &LogEvent{log.Warn()}
}

// Error logs an error message
func Error() *LogEvent {
	return &LogEvent{log.Error()}
}

// ErrorWithCode logs an error message with a specific error code
func ErrorWithCode(err errors.Error) *LogEvent {
	return withCode(log.Error(), err)
}

// Fatal logs a fatal message and exits the program
func Fatal() *LogEvent {
	return &LogEvent{log.Fatal()}
}

func withCode(ev *zerolog.Event, err errors.Error) *LogEvent {
	return &LogEvent{ev.
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())}
}

// component is a Logger bound to the package logger with a component field.
type component struct {
	name string
}

// New returns a Logger tagged with the given component name.
func New(name string) Logger {
	return &component{name: name}
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return nop{}
}

func (c *component) Debug() *LogEvent { return c.tag(log.Debug()) }
func (c *component) Info() *LogEvent  { return c.tag(log.Info()) }
func (c *component) Warn() *LogEvent  { return c.tag(log.Warn()) }
func (c *component) Error() *LogEvent { return c.tag(log.Error()) }

func (c *component) ErrorWithCode(err errors.Error) *LogEvent {
	return withCode(log.Error().Str("component", c.name), err)
}

func (c *component) With(name string) Logger {
	return &component{name: c.name + "." + name}
}

func (c *component) tag(ev *zerolog.Event) *LogEvent {
	return &LogEvent{ev.Str("component", c.name)}
}

type nop struct{}

func (nop) Debug() *LogEvent                       { return &LogEvent{} }
func (nop) Info() *LogEvent                        { return &LogEvent{} }
func (nop) Warn() *LogEvent                        { return &LogEvent{} }
func (nop) Error() *LogEvent                       { return &LogEvent{} }
func (nop) ErrorWithCode(_ errors.Error) *LogEvent { return &LogEvent{} }
func (n nop) With(_ string) Logger                 { return n }
