package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	waLog "go.mau.fi/whatsmeow/util/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger construction
type Options struct {
	Level  string
	Format string // "json" or "text"
	File   string // optional rotating log file
}

// New builds the process logger. When a file is configured, output is
// written to stdout and to a size-rotated file.
func New(opts Options) *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(opts.Level); err == nil {
		logger.SetLevel(level)
	}

	if strings.EqualFold(opts.Format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if opts.File != "" {
		logger.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    64,
			MaxBackups: 7,
			MaxAge:     7,
		}))
	}

	return logger
}

// waLogger adapts logrus to the whatsmeow logger interface
type waLogger struct {
	entry *logrus.Entry
}

// ForWhatsmeow returns a whatsmeow logger writing through logrus with a
// "module" field, so client and store logs share the process format.
func ForWhatsmeow(logger *logrus.Logger, module string) waLog.Logger {
	return &waLogger{entry: logger.WithField("module", module)}
}

func (l *waLogger) Warnf(msg string, args ...interface{}) {
	l.entry.Warnf(msg, args...)
}

func (l *waLogger) Errorf(msg string, args ...interface{}) {
	l.entry.Errorf(msg, args...)
}

func (l *waLogger) Infof(msg string, args ...interface{}) {
	l.entry.Infof(msg, args...)
}

func (l *waLogger) Debugf(msg string, args ...interface{}) {
	l.entry.Debugf(msg, args...)
}

func (l *waLogger) Sub(module string) waLog.Logger {
	parent, _ := l.entry.Data["module"].(string)
	return &waLogger{entry: l.entry.WithField("module", fmt.Sprintf("%s/%s", parent, module))}
}
