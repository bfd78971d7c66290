package traffic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultABPath is the load tool used when an ABJob names none
	DefaultABPath = "ab"
	// ABTimeout bounds a count-limited run
	ABTimeout = 120 * time.Second
	// abRequestCeiling is passed as -n for timed runs, the tool's -t ends them
	abRequestCeiling = 50000000
	abPollInterval   = time.Second
)

var (
	abCompleteRe = regexp.MustCompile(`Complete requests:\s+(\d+)`)
	abFailedRe   = regexp.MustCompile(`Failed requests:\s+(\d+)`)
)

// ABJob is a high-concurrency HTTP load run delegated to the ab tool
type ABJob struct {
	Path        string
	URL         string
	Requests    int
	Concurrency int
	Duration    time.Duration
	KeepAlive   bool
}

// ABResult is what the load tool reported
type ABResult struct {
	Skipped   bool // tool not installed
	Complete  int
	Failed    int
	Elapsed   time.Duration
	Cancelled bool
	Output    string
}

// Args builds the tool arguments for the job
func (j ABJob) Args() []string {
	n := j.Requests
	if j.Duration > 0 {
		n = abRequestCeiling
	}
	c := j.Concurrency
	if c <= 0 {
		c = 1
	}
	if c > n {
		c = n
	}

	args := []string{"-n", strconv.Itoa(n), "-c", strconv.Itoa(c)}
	if j.KeepAlive {
		args = append(args, "-k")
	}
	if j.Duration > 0 {
		secs := int((j.Duration + time.Second - 1) / time.Second)
		args = append(args, "-t", strconv.Itoa(secs))
	}
	return append(args, j.URL)
}

// RunAB runs the load tool, logging progress every second and killing it on
// cancellation. A missing tool is logged and reported as skipped.
func (d *Dispatcher) RunAB(ctx context.Context, job ABJob) (*ABResult, error) {
	if job.URL == "" {
		return nil, ErrNoTargets
	}
	if job.Requests <= 0 && job.Duration <= 0 {
		return nil, ErrNoStopCondition
	}

	log := d.log.WithField("protocol", "ab")
	path := job.Path
	if path == "" {
		path = DefaultABPath
	}
	if _, err := lookPath(path); err != nil {
		log.WithField("path", path).Warn("Load tool not found, skipping AB test")
		return &ABResult{Skipped: true}, nil
	}

	limit := ABTimeout
	if job.Duration > 0 {
		limit = job.Duration + 30*time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	var out syncBuffer
	cmd := execCommand(runCtx, path, job.Args()...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	bindTreeKill(cmd)
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", path, err)
	}
	log.WithField("args", job.Args()).Info("AB test started")

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(abPollInterval)
	defer ticker.Stop()

	var waitErr error
loop:
	for {
		select {
		case waitErr = <-done:
			break loop
		case <-ticker.C:
			logABProgress(log, job, time.Since(start))
		}
	}

	res := parseABOutput(out.String())
	res.Elapsed = time.Since(start)
	res.Cancelled = ctx.Err() != nil

	if waitErr != nil && !res.Cancelled {
		var exitErr *exec.ExitError
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			log.WithField("limit", limit).Warn("AB test timed out and was killed")
		} else if errors.As(waitErr, &exitErr) {
			log.WithField("exit_code", exitErr.ExitCode()).Warn("AB test exited with error")
		} else {
			return res, fmt.Errorf("%s failed: %w", path, waitErr)
		}
	}

	log.WithFields(logrus.Fields{
		"complete":  res.Complete,
		"failed":    res.Failed,
		"cancelled": res.Cancelled,
	}).Info("AB test finished")
	return res, nil
}

func logABProgress(log *logrus.Entry, job ABJob, elapsed time.Duration) {
	if job.Duration <= 0 {
		log.Debugf("AB test running for %s", elapsed.Round(time.Second))
		return
	}
	pct := int(elapsed * 100 / job.Duration)
	if pct > 100 {
		pct = 100
	}
	log.Infof("AB test progress: %d%%", pct)
}

func parseABOutput(out string) *ABResult {
	res := &ABResult{Output: out}
	if m := abCompleteRe.FindStringSubmatch(out); m != nil {
		res.Complete, _ = strconv.Atoi(m[1])
	}
	if m := abFailedRe.FindStringSubmatch(out); m != nil {
		res.Failed, _ = strconv.Atoi(m[1])
	}
	return res
}

// syncBuffer lets the child write while the poller may read
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
