package agent

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/studiowebux/agentstress/internal/logging"
)

// execCommand is swapped in tests
var execCommand = exec.CommandContext

var scStateRe = regexp.MustCompile(`STATE\s*:\s*\d+\s+([A-Z_]+)`)

// SCController drives services through the sc.exe command line tool
type SCController struct {
	Path         string
	PollInterval time.Duration
	Log          *logrus.Entry
}

// NewSCController creates a controller using sc.exe from PATH
func NewSCController(log *logrus.Entry) *SCController {
	if log == nil {
		log = logging.Discard()
	}
	return &SCController{Path: "sc.exe", PollInterval: time.Second, Log: log}
}

// Status queries the service; a failing query means the service does not exist
func (c *SCController) Status(ctx context.Context, name string) ServiceStatus {
	out, err := execCommand(ctx, c.Path, "query", name).Output()
	if err != nil {
		return StatusNotFound
	}
	return ParseSCQuery(string(out))
}

// Start asks the service manager to start the service
func (c *SCController) Start(ctx context.Context, name string) error {
	c.Log.WithField("service", name).Info("Starting service")
	if out, err := execCommand(ctx, c.Path, "start", name).CombinedOutput(); err != nil {
		return fmt.Errorf("failed to start %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Stop asks the service to stop and polls until it reports STOPPED
func (c *SCController) Stop(ctx context.Context, name string, timeout time.Duration) error {
	log := c.Log.WithField("service", name)
	log.Info("Stopping service")

	// A failing stop request is not final: the service may already be stopping
	execCommand(ctx, c.Path, "stop", name).Run()

	interval := c.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.Now().Add(timeout)
	for {
		if c.Status(ctx, name) == StatusStopped {
			log.Info("Service stopped")
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("service %s did not stop within %s", name, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// ParseSCQuery extracts the state from `sc query` output
func ParseSCQuery(out string) ServiceStatus {
	if m := scStateRe.FindStringSubmatch(out); m != nil {
		switch s := ServiceStatus(m[1]); s {
		case StatusRunning, StatusStopped, StatusStartPending, StatusStopPending:
			return s
		}
		return StatusUnknown
	}

	switch {
	case strings.Contains(out, "START_PENDING"):
		return StatusStartPending
	case strings.Contains(out, "STOP_PENDING"):
		return StatusStopPending
	case strings.Contains(out, "RUNNING"):
		return StatusRunning
	case strings.Contains(out, "STOPPED"):
		return StatusStopped
	}
	return StatusUnknown
}
