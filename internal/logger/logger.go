package logger

import (
	"fmt"
	"io"
	"log"
)

type logger struct {
	traceLogger *log.Logger
	debugLogger *log.Logger
	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger
}

func (l *logger) Trace(v ...any) { output(l.traceLogger, fmt.Sprintln(v...)) }
func (l *logger) Debug(v ...any) { output(l.debugLogger, fmt.Sprintln(v...)) }
func (l *logger) Info(v ...any)  { output(l.infoLogger, fmt.Sprintln(v...)) }
func (l *logger) Warn(v ...any)  { output(l.warnLogger, fmt.Sprintln(v...)) }
func (l *logger) Error(v ...any) { output(l.errorLogger, fmt.Sprintln(v...)) }

func (l *logger) Tracef(format string, v ...any) { output(l.traceLogger, fmt.Sprintf(format, v...)) }
func (l *logger) Debugf(format string, v ...any) { output(l.debugLogger, fmt.Sprintf(format, v...)) }
func (l *logger) Infof(format string, v ...any)  { output(l.infoLogger, fmt.Sprintf(format, v...)) }
func (l *logger) Warnf(format string, v ...any)  { output(l.warnLogger, fmt.Sprintf(format, v...)) }
func (l *logger) Errorf(format string, v ...any) { output(l.errorLogger, fmt.Sprintf(format, v...)) }

// output skips this frame and the exported method so Lshortfile points at the caller.
func output(l *log.Logger, s string) {
	if l != nil {
		_ = l.Output(3, s)
	}
}

// NewLogger returns a logger writing every level up to and including level to out.
func NewLogger(level Level, out io.Writer) *logger {
	flag := log.LstdFlags | log.Lshortfile
	newIf := func(min Level, prefix string) *log.Logger {
		if level < min {
			return nil
		}
		return log.New(out, prefix, flag)
	}
	return &logger{
		traceLogger: newIf(LevelTrace, "TRACE:"),
		debugLogger: newIf(LevelDebug, "DEBUG:"),
		infoLogger:  newIf(LevelInfo, "INFO :"),
		warnLogger:  newIf(LevelWarn, "WARN :"),
		errorLogger: newIf(LevelError, "ERROR:"),
	}
}

// Discard returns a logger with every level disabled.
func Discard() *logger {
	return NewLogger(LevelOff, io.Discard)
}
