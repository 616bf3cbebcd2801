package logger

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

func init() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetLevel(logrus.InfoLevel)
}

// Logger is responsible for logging messages from code.
type Logger interface {
	Debug(string, ...interface{})
	Info(string, ...interface{})
	Warn(string, ...interface{})
	Error(string, ...interface{})
	WithFields(...interface{}) Logger
}

// Configure sets the level and the output format ("text" or "json").
func Configure(level, format string) {
	SetLevel(level)

	switch strings.ToLower(format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// SetLevel sets the level of logging
func SetLevel(l string) {
	switch strings.ToLower(l) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// SetOutput sets the output for all loggers.
func SetOutput(w io.Writer) {
	logrus.SetOutput(w)
}

// Discard configures the logger to discard all logs.
func Discard() {
	logrus.SetOutput(io.Discard)
}

// New returns a Logger tagged with the namespace ns.
//
// Arguments after ns are key-value pairs added to every message:
//
//	log := logger.New("scanner", "mode", "account")
func New(ns string, args ...interface{}) Logger {
	f := fields(args...)
	f["ns"] = ns
	return &logger{logrus.WithFields(f)}
}

type logger struct {
	log *logrus.Entry
}

func (l *logger) Debug(msg string, args ...interface{}) {
	l.log.WithFields(fields(args...)).Debug(msg)
}

func (l *logger) Info(msg string, args ...interface{}) {
	l.log.WithFields(fields(args...)).Info(msg)
}

func (l *logger) Warn(msg string, args ...interface{}) {
	l.log.WithFields(fields(args...)).Warn(msg)
}

// Error logs an error message. A single extra argument is logged as "error":
//
//	log.Error("Couldn't store report", err)
func (l *logger) Error(msg string, args ...interface{}) {
	var f logrus.Fields
	if len(args) == 1 {
		f = fields("error", args[0])
	} else {
		f = fields(args...)
	}
	l.log.WithFields(f).Error(msg)
}

func (l *logger) WithFields(args ...interface{}) Logger {
	return &logger{l.log.WithFields(fields(args...))}
}

func fields(args ...interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(args); i += 2 {
		key := fmt.Sprint(args[i])
		f[key] = args[i+1]
	}
	if len(args)%2 == 1 {
		f["UNKNOWN"] = args[len(args)-1]
	}
	return f
}
