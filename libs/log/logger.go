// Package log provides the structured logger used across docsync, mirroring
// cometbft's libs/log: a narrow interface over go-kit/log with a plain
// console formatter and a JSON formatter.
package log

import (
	"fmt"
	"io"
	"os"
	"time"

	kitlog "github.com/go-kit/log"
)

// Logger is the interface every long-lived docsync component depends on.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
	With(keyvals ...interface{}) Logger
}

// NopLogger discards everything. Used as the default when the caller supplies none.
func NopLogger() Logger { return &tmLogger{src: kitlog.NewNopLogger()} }

type tmLogger struct {
	src kitlog.Logger
}

// NewConsoleLogger renders log lines as logfmt key=value pairs, each line
// carrying a "ts" timestamp, writing to w.
func NewConsoleLogger(w io.Writer) Logger {
	l := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(w))
	l = kitlog.With(l, "ts", kitlog.TimestampFormat(func() time.Time { return time.Now() }, "2006-01-02T15:04:05.000Z07:00"))
	return &tmLogger{src: l}
}

// NewJSONLogger renders log lines as JSON objects, for machine consumption.
func NewJSONLogger(w io.Writer) Logger {
	l := kitlog.NewJSONLogger(kitlog.NewSyncWriter(w))
	l = kitlog.With(l, "ts", kitlog.TimestampFormat(func() time.Time { return time.Now() }, time.RFC3339Nano))
	return &tmLogger{src: l}
}

// NewLogger builds a Logger for the given format ("json" or anything else for plain console).
func NewLogger(format string) Logger {
	if format == "json" {
		return NewJSONLogger(os.Stdout)
	}
	return NewConsoleLogger(os.Stdout)
}

func (l *tmLogger) Debug(msg string, keyvals ...interface{}) { l.log("debug", msg, keyvals...) }
func (l *tmLogger) Info(msg string, keyvals ...interface{})  { l.log("info", msg, keyvals...) }
func (l *tmLogger) Error(msg string, keyvals ...interface{}) { l.log("error", msg, keyvals...) }

func (l *tmLogger) log(level, msg string, keyvals ...interface{}) {
	kv := append([]interface{}{"level", level, "msg", msg}, keyvals...)
	if err := l.src.Log(kv...); err != nil {
		fmt.Fprintf(os.Stderr, "docsync: logging error: %v\n", err)
	}
}

func (l *tmLogger) With(keyvals ...interface{}) Logger {
	return &tmLogger{src: kitlog.With(l.src, keyvals...)}
}
