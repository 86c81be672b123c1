// Package logging provides structured, leveled logging for the runtime.
// It replaces a plain log.Printf wrapper with a logrus-backed logger that
// supports fields (run ID, task ID, agent, cost) and routes error-level
// output to stderr while everything else goes to stdout.
package logging

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// streamSplitter routes formatted log lines to stderr for error level and
// above, stdout otherwise, so container log collectors can treat the two
// streams differently.
type streamSplitter struct{}

func (streamSplitter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte("level=fatal")) ||
		bytes.Contains(p, []byte(`"level":"error"`)) || bytes.Contains(p, []byte(`"level":"fatal"`)) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Log is the package-level logger every component writes through.
var Log = logrus.New()

func init() {
	Log.SetOutput(streamSplitter{})
	Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetJSON switches the logger to JSON output, for production deployments
// where logs are shipped to an aggregator.
func SetJSON() {
	Log.SetFormatter(&logrus.JSONFormatter{})
}

// WithFields returns an entry carrying the given structured fields.
func WithFields(fields map[string]any) *logrus.Entry {
	return Log.WithFields(logrus.Fields(fields))
}

// Infof logs at info level with printf-style formatting.
func Infof(format string, args ...any) { Log.Infof(format, args...) }

// Warnf logs at warn level with printf-style formatting.
func Warnf(format string, args ...any) { Log.Warnf(format, args...) }

// Errorf logs at error level with printf-style formatting.
func Errorf(format string, args ...any) { Log.Errorf(format, args...) }
