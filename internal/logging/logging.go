// Package logging is a thin leveled wrapper around logrus, mirroring the
// DEBUG/INFO/IMPORTANT/WARNING/ERROR ladder of the original logger.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Level names match the original logger's ladder. logrus has no built-in
// IMPORTANT level, so it is modeled as an Info entry carrying
// important:true, keeping a single severity axis for filtering while
// preserving the distinction in structured output.
const (
	importantField = "important"
)

// Configure sets the process-wide logrus level and formatter. debug
// enables DEBUG-level entries; otherwise only INFO and above are emitted.
func Configure(debug bool) {
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
		return
	}
	logrus.SetLevel(logrus.InfoLevel)
}

// Debug logs a DEBUG-level entry, matching fs_info's per-call-site detail
// logging ("fs_write is called: ...").
func Debug(msg string, fields logrus.Fields) {
	logrus.WithFields(fields).Debug(msg)
}

// Info logs a plain INFO-level entry.
func Info(msg string, fields logrus.Fields) {
	logrus.WithFields(fields).Info(msg)
}

// Important logs an INFO-level entry tagged important:true, for events an
// operator should notice even with debug logging off (mount, format,
// unmount).
func Important(msg string, fields logrus.Fields) {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields[importantField] = true
	logrus.WithFields(fields).Info(msg)
}

// Warning logs a WARNING-level entry.
func Warning(msg string, fields logrus.Fields) {
	logrus.WithFields(fields).Warn(msg)
}

// Error logs an ERROR-level entry.
func Error(msg string, fields logrus.Fields) {
	logrus.WithFields(fields).Error(msg)
}
