package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

type LogStatus int

const (
	VERBOSE LogStatus = iota
	DEBUG
	SUCCESS
	INFO
	NEW
	REMOVE
	STOP
	WARNING
	ERROR
	FATAL
)

func (e LogStatus) String() string {
	return []string{
		"V",
		"D",
		"✓",
		"I",
		"+",
		"-",
		"X",
		"!",
		"!!",
		"PANIC",
	}[e]
}

func (e LogStatus) Level() int { return int(e) }

func (e LogStatus) Color() *color.Color {
	return []*color.Color{
		color.New(color.FgWhite, color.Italic),                // Verbose
		color.New(color.FgWhite, color.Italic),                // Debug
		color.New(color.FgHiGreen),                            // Success
		color.New(color.FgWhite),                              // Info
		color.New(color.FgGreen, color.Italic),                // New
		color.New(color.FgYellow, color.Italic),               // Remove
		color.New(color.FgHiYellow),                           // Stop
		color.New(color.FgYellow, color.Underline),            // Warning
		color.New(color.FgHiRed, color.Bold),                  // Error
		color.New(color.FgHiRed, color.Bold, color.Underline), // Panic
	}[e]
}

// Logger is a named logging facade handed out to each service. The
// printf-style helpers simply delegate to Emit with the relevant status.
type Logger interface {
	Emit(LogStatus, string, ...interface{})
	Verbosef(string, ...interface{})
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warnf(string, ...interface{})
	Errorf(string, ...interface{})
	Fatalf(string, ...interface{})

	// Printf exists so a Logger satisfies external logging contracts
	// (e.g. goose.Logger); it logs at INFO.
	Printf(string, ...interface{})
}

type loggerImpl struct {
	name string
}

func (l *loggerImpl) Emit(status LogStatus, message string, interpolations ...interface{}) {
	Log.Emit(status, l.name, message, interpolations...)
}

func (l *loggerImpl) Verbosef(message string, v ...interface{}) { l.Emit(VERBOSE, message, v...) }
func (l *loggerImpl) Debugf(message string, v ...interface{})   { l.Emit(DEBUG, message, v...) }
func (l *loggerImpl) Infof(message string, v ...interface{})    { l.Emit(INFO, message, v...) }
func (l *loggerImpl) Warnf(message string, v ...interface{})    { l.Emit(WARNING, message, v...) }
func (l *loggerImpl) Errorf(message string, v ...interface{})   { l.Emit(ERROR, message, v...) }
func (l *loggerImpl) Printf(message string, v ...interface{})   { l.Emit(INFO, message, v...) }

func (l *loggerImpl) Fatalf(message string, v ...interface{}) {
	l.Emit(FATAL, message, v...)
	os.Exit(1)
}

type LoggerManager interface {
	GetLogger(string) Logger
	Emit(LogStatus, string, string, ...interface{})
	SetMinLevel(int)
}

var Log LoggerManager = &loggerMgr{
	offset:   0,
	minLevel: int(INFO),
}

type loggerMgr struct {
	offset   int
	minLevel int
}

func (l *loggerMgr) GetLogger(name string) Logger {
	return &loggerImpl{name: name}
}

func (l *loggerMgr) SetMinLevel(level int) {
	l.minLevel = level
}

func (l *loggerMgr) Emit(status LogStatus, name string, message string, interpolations ...interface{}) {
	if status.Level() < l.minLevel {
		return
	}

	l.setNameOffset(len(name))
	padding := strings.Repeat(" ", l.offset-len(name))
	msg := fmt.Sprintf("[%s] %s(%s) %s", name, padding, status, fmt.Sprintf(message, interpolations...))

	status.Color().Print(msg)
}

func (l *loggerMgr) setNameOffset(offset int) {
	if offset > l.offset {
		l.offset = offset
	}
}

func Get(name string) Logger {
	return Log.GetLogger(name)
}

// SetMinLoggingLevel adjusts the level below which emitted logs are
// silently dropped. Mainly useful for quietening tests.
func SetMinLoggingLevel(level int) {
	Log.SetMinLevel(level)
}
