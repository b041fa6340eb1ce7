package debug

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (runs, outcomes, config)
	LevelLive    = 2 // Live info (poll attempts, stages, chunks sent)
	LevelVerbose = 3 // Verbose (conversion details, framing)
	LevelTrace   = 4 // Trace (GPIO, raw transport writes)
)

var (
	level  int
	logger = newLogger(io.Discard)
)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000000",
	})
	l.SetLevel(logrus.TraceLevel)
	return l
}

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (runs, outcomes)
// 2 = live info (poll attempts, pipeline stages, chunks)
// 3 = verbose (conversion and framing details)
// 4 = trace (GPIO, very low level)
func Init(debugLevel int) {
	level = debugLevel
	if level > LevelOff {
		logger = newLogger(os.Stdout)
	} else {
		logger = newLogger(io.Discard)
	}
}

// SetOutput redirects all debug output (e.g. to stdout and the SSE broadcaster).
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// Level returns the current debug level.
func Level() int {
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return level >= minLevel
}

// WithFields returns a structured entry for run-scoped logging.
// Entries are emitted at level 1 and above.
func WithFields(fields logrus.Fields) logrus.FieldLogger {
	if level < LevelInfo {
		return newLogger(io.Discard).WithFields(fields)
	}
	return logger.WithFields(fields)
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if level >= LevelInfo {
		logger.Infof(format, args...)
	}
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	if level >= LevelInfo {
		logger.Info("═══════════════════════════════════════")
		logger.Infof("  %s", title)
		logger.Info("═══════════════════════════════════════")
	}
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	if level >= LevelInfo {
		logger.WithField("name", name).Infof("  %s = %v", name, value)
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if level >= LevelLive {
		logger.WithField("live", true).Infof(format, args...)
	}
}

// Poll prints a camera status poll (level 2).
func Poll(attempt int, state string) {
	if level >= LevelLive {
		logger.WithFields(logrus.Fields{"attempt": attempt, "state": state}).Info("camera status polled")
	}
}

// Chunk prints a printer transfer chunk (level 2).
func Chunk(index, total, size int) {
	if level >= LevelLive {
		logger.WithFields(logrus.Fields{"chunk": index, "of": total, "bytes": size}).Info("printer chunk sent")
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if level >= LevelVerbose {
		logger.Debugf(format, args...)
	}
}

// Print prints a level 3 message (alias for Verbose).
func Print(format string, args ...interface{}) {
	Verbose(format, args...)
}

// Printf is an alias for Print for compatibility.
func Printf(format string, args ...interface{}) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if level >= LevelVerbose {
		logger.Debugf("%s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if level >= LevelVerbose {
		logger.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		logger.Debugf("  %s", name)
		logger.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if level >= LevelVerbose {
		logger.Debugf("Step %d: %s", num, description)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace, GPIO, raw bytes).
func Trace(format string, args ...interface{}) {
	if level >= LevelTrace {
		logger.Tracef(format, args...)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if level >= LevelTrace {
		logger.WithFields(logrus.Fields{"pin": pin, "value": value}).Tracef("GPIO %s", operation)
	}
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	if level >= LevelInfo {
		logger.WithError(err).Error("error")
	}
}

// Fmt is a helper function that returns a formatted string
// only if debug is enabled (to avoid unnecessary allocations).
func Fmt(format string, args ...interface{}) string {
	if level > 0 {
		return fmt.Sprintf(format, args...)
	}
	return ""
}
