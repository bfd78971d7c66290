package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/studiowebux/agentstress/internal/config"
	"github.com/studiowebux/agentstress/internal/logging"
	"github.com/studiowebux/agentstress/internal/store"
)

// GlobalOptions are shared by every command
type GlobalOptions struct {
	LogLevel string
	LogJSON  bool
	Quiet    bool // keep the log file but do not mirror it to the console
	NoStore  bool
	Out      io.Writer
}

// session holds what a command needs for its lifetime
type session struct {
	logger  *logrus.Logger
	logFile string
	closer  io.Closer
	store   *store.Manager
	out     io.Writer
}

// openSession initializes state directories, logging and, when requested,
// the run database
func openSession(opts GlobalOptions, withStore bool) (*session, error) {
	if err := config.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize config: %w", err)
	}

	logger, logFile, closer, err := logging.Init(logging.Options{
		Dir:     config.LogsDir,
		Level:   opts.LogLevel,
		JSON:    opts.LogJSON,
		Console: !opts.Quiet,
	})
	if err != nil {
		return nil, err
	}

	s := &session{logger: logger, logFile: logFile, closer: closer, out: opts.Out}
	if s.out == nil {
		s.out = os.Stdout
	}
	logger.WithField("file", logFile).Info("Logging initialized")

	if withStore && !opts.NoStore {
		m, err := store.Open(config.DatabasePath)
		if err != nil {
			// Keep going without history
			logger.WithError(err).Warn("Run database unavailable")
		} else {
			s.store = m
		}
	}
	return s, nil
}

func (s *session) component(name string) *logrus.Entry {
	return logging.Component(s.logger, name)
}

func (s *session) Close() {
	if s.store != nil {
		s.store.Close()
	}
	s.closer.Close()
}

// signalContext is cancelled on Ctrl-C or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
