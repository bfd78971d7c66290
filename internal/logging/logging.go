package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// SessionFilePrefix is the file name prefix of every per-session log file
const SessionFilePrefix = "stress_test_"

// Options controls where and how the harness logs
type Options struct {
	Dir     string // Directory for the session log file, empty disables the file
	Level   string // logrus level name (debug, info, warn, error)
	JSON    bool   // Use JSON output instead of text
	Console bool   // Mirror log output to stdout
}

// Init builds the harness logger and returns it with the session log file path.
// The returned closer must be called on shutdown to flush the file.
func Init(opts Options) (*logrus.Logger, string, io.Closer, error) {
	logger := logrus.New()

	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, "", nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}
	logger.SetLevel(level)

	if opts.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			DisableColors:   !opts.Console,
		})
	}

	var writers []io.Writer
	if opts.Console {
		writers = append(writers, os.Stdout)
	}

	var (
		path   string
		closer io.Closer = nopCloser{}
	)
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, "", nil, fmt.Errorf("failed to create log directory %s: %w", opts.Dir, err)
		}
		path = filepath.Join(opts.Dir, SessionFileName(time.Now()))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, "", nil, fmt.Errorf("failed to open log file %s: %w", path, err)
		}
		writers = append(writers, f)
		closer = f
	}

	switch len(writers) {
	case 0:
		logger.SetOutput(io.Discard)
	case 1:
		logger.SetOutput(writers[0])
	default:
		logger.SetOutput(io.MultiWriter(writers...))
	}

	return logger, path, closer, nil
}

// SessionFileName returns the log file name for a session started at t
func SessionFileName(t time.Time) string {
	return SessionFilePrefix + t.Format("2006-01-02_15-04-05") + ".log"
}

// Component returns a child entry tagged with the component name
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	return logger.WithField("component", name)
}

// Discard returns an entry that drops everything, for tests and library defaults
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
