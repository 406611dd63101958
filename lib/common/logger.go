package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/lni/dragonboat/v4/logger"
)

// LoggerNames lists the named loggers used by sKV.
var LoggerNames = []string{"store", "db", "lifecycle", "script", "cmd"}

// LogOutput receives the lines of all loggers created by InitLoggers.
var LogOutput io.Writer = os.Stderr

var levelTags = map[logger.LogLevel]string{
	logger.CRITICAL: "CRIT",
	logger.ERROR:    "ERROR",
	logger.WARNING:  "WARN",
	logger.INFO:     "INFO",
	logger.DEBUG:    "DEBUG",
}

var factoryOnce sync.Once

// lineLogger is the logger.ILogger behind every named sKV logger.
// Each line reads "<date> <time> LEVEL | name | message".
type lineLogger struct {
	name  string
	level logger.LogLevel
	out   *log.Logger
}

func newLineLogger(name string, w io.Writer) *lineLogger {
	return &lineLogger{
		name:  name,
		level: logger.INFO,
		out:   log.New(w, "", log.Ldate|log.Ltime),
	}
}

func (l *lineLogger) SetLevel(level logger.LogLevel) { l.level = level }

func (l *lineLogger) Debugf(format string, args ...interface{}) {
	l.logf(logger.DEBUG, format, args)
}

func (l *lineLogger) Infof(format string, args ...interface{}) {
	l.logf(logger.INFO, format, args)
}

func (l *lineLogger) Warningf(format string, args ...interface{}) {
	l.logf(logger.WARNING, format, args)
}

func (l *lineLogger) Errorf(format string, args ...interface{}) {
	l.logf(logger.ERROR, format, args)
}

// Panicf logs at critical level and panics with the message.
func (l *lineLogger) Panicf(format string, args ...interface{}) {
	l.logf(logger.CRITICAL, format, args)
	panic(fmt.Sprintf(format, args...))
}

// logf drops lvl if it is more verbose than the configured level.
func (l *lineLogger) logf(lvl logger.LogLevel, format string, args []interface{}) {
	if lvl > l.level {
		return
	}
	l.out.Printf("%-5s | %-10s | %s", levelTags[lvl], l.name, fmt.Sprintf(format, args...))
}

// ParseLogLevel converts a level name (debug, info, warn, error) to a logger.LogLevel.
// The empty string means info.
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info", "":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return logger.INFO, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// InitLoggers routes the dragonboat logger registry to LogOutput and sets the
// level of all sKV loggers. The factory is installed once per process, later
// calls only change the level.
func InitLoggers(level string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	factoryOnce.Do(func() {
		logger.SetLoggerFactory(func(name string) logger.ILogger {
			return newLineLogger(name, LogOutput)
		})
	})
	for _, name := range LoggerNames {
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}
