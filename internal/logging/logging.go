// Package logging configures the ambient logrus logger, following the
// level-filtered, component-tagged setup zmb3-teleport's lib/utils.InitLogger
// establishes for every teleport binary.
package logging

import (
	"io"
	"os"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
)

// Level selects the verbosity the CLI was invoked with: -D for trace-level
// diagnostics, -q to suppress logging entirely, and the default otherwise.
type Level int

const (
	LevelDefault Level = iota
	LevelTrace
	LevelQuiet
)

// Init points the standard logrus logger at logFile (created if necessary)
// under the chosen level. LevelQuiet discards all output; any other level
// writes timestamped, component-tagged records to logFile.
func Init(logFile string, level Level) error {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if level == LevelQuiet {
		logrus.SetOutput(io.Discard)
		return nil
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return trace.Wrap(err, "opening log file %s", logFile)
	}
	logrus.SetOutput(f)

	switch level {
	case LevelTrace:
		logrus.SetLevel(logrus.TraceLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
	return nil
}

// Component returns a logger tagged with trace.Component=name, the same
// per-subsystem tagging convention every package in this module's teacher
// uses (trace.ComponentFields).
func Component(name string) logrus.FieldLogger {
	return logrus.WithField(trace.Component, name)
}
