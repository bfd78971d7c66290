package traffic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/studiowebux/agentstress/internal/logging"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Unit performs one piece of protocol work. A Unit is owned by a single
// worker and is never called concurrently.
type Unit interface {
	// Do runs one unit and returns the target it drove
	Do(ctx context.Context) (string, error)
	Close() error
}

// UnitFactory builds the unit for one worker
type UnitFactory func(job Job, worker int, log *logrus.Entry) (Unit, error)

// Report summarizes an executed job
type Report struct {
	Protocol  Protocol
	StartedAt time.Time
	Elapsed   time.Duration
	Sent      int
	Succeeded int
	Failed    int
	Cancelled bool
	Targets   []string // distinct targets driven, first-seen order
	Stats     *Stats
}

// Dispatcher runs traffic jobs on a bounded worker pool
type Dispatcher struct {
	log       *logrus.Entry
	mu        sync.RWMutex
	factories map[Protocol]UnitFactory
}

// NewDispatcher creates a Dispatcher with the built-in protocol units
func NewDispatcher(log *logrus.Entry) *Dispatcher {
	if log == nil {
		log = logging.Discard()
	}
	return &Dispatcher{
		log: log,
		factories: map[Protocol]UnitFactory{
			ProtocolDNS:   newDNSUnit,
			ProtocolUDP:   newUDPUnit,
			ProtocolHTTPS: newCurlUnit,
			ProtocolFTP:   newFTPUnit,
			ProtocolFTPS:  newFTPUnit,
			ProtocolSFTP:  newSFTPUnit,
		},
	}
}

// Register replaces the unit implementation for a protocol
func (d *Dispatcher) Register(p Protocol, f UnitFactory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.factories[p] = f
}

// Run executes the job until its count is exhausted, its deadline passes or
// ctx is cancelled. Per-unit failures are counted, never returned.
func (d *Dispatcher) Run(ctx context.Context, job Job) (*Report, error) {
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s job: %w", job.Protocol, err)
	}

	d.mu.RLock()
	factory, ok := d.factories[job.Protocol]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProtocol, job.Protocol)
	}

	log := d.log.WithField("protocol", job.Protocol.String())
	n := job.workers()

	units := make([]Unit, 0, n)
	defer func() {
		for _, u := range units {
			u.Close()
		}
	}()
	for i := 0; i < n; i++ {
		u, err := factory(job, i, log)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare %s worker %d: %w", job.Protocol, i, err)
		}
		units = append(units, u)
	}

	var limiter *rate.Limiter
	if job.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(job.RatePerSec), n)
	}

	col := newCollector(job, log)
	log.WithFields(logrus.Fields{
		"workers":  n,
		"count":    job.Count,
		"duration": job.Duration,
	}).Info("Traffic job started")

	if job.Duration > 0 {
		runForDuration(ctx, job.Duration, units, limiter, col)
	} else {
		runForCount(ctx, job.Count, units, limiter, col)
	}

	report := col.report()
	report.Cancelled = ctx.Err() != nil
	log.WithFields(logrus.Fields{
		"sent":      report.Sent,
		"failed":    report.Failed,
		"elapsed":   report.Elapsed.Round(time.Millisecond),
		"cancelled": report.Cancelled,
	}).Info("Traffic job finished")

	return report, nil
}

// runForDuration keeps every worker busy until the deadline
func runForDuration(ctx context.Context, d time.Duration, units []Unit, limiter *rate.Limiter, col *collector) {
	deadline := time.Now().Add(d)
	dctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var g errgroup.Group
	for _, u := range units {
		u := u
		g.Go(func() error {
			for time.Now().Before(deadline) {
				if ctx.Err() != nil {
					return nil
				}
				if limiter != nil {
					if err := limiter.Wait(dctx); err != nil {
						return nil
					}
				}
				col.run(ctx, u)
			}
			return nil
		})
	}
	g.Wait()
}

// runForCount feeds exactly count units through the workers
func runForCount(ctx context.Context, count int, units []Unit, limiter *rate.Limiter, col *collector) {
	work := make(chan struct{})

	var g errgroup.Group
	g.Go(func() error {
		defer close(work)
		for i := 0; i < count; i++ {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return nil
				}
			}
			select {
			case <-ctx.Done():
				return nil
			case work <- struct{}{}:
			}
		}
		return nil
	})

	for _, u := range units {
		u := u
		g.Go(func() error {
			for range work {
				col.run(ctx, u)
			}
			return nil
		})
	}
	g.Wait()
}

// collector gathers unit results from all workers
type collector struct {
	mu       sync.Mutex
	job      Job
	started  time.Time
	stats    *Stats
	targets  []string
	seen     map[string]bool
	progress *progress
}

func newCollector(job Job, log *logrus.Entry) *collector {
	return &collector{
		job:      job,
		started:  time.Now(),
		stats:    NewStats(),
		seen:     make(map[string]bool),
		progress: newProgress(job, log),
	}
}

func (c *collector) run(ctx context.Context, u Unit) {
	start := time.Now()
	target, err := u.Do(ctx)
	elapsed := time.Since(start)

	c.mu.Lock()
	c.stats.Add(elapsed, err != nil)
	if target != "" && !c.seen[target] {
		c.seen[target] = true
		c.targets = append(c.targets, target)
	}
	c.mu.Unlock()

	if err != nil {
		c.progress.log.WithError(err).WithField("target", target).Debug("Unit failed")
	}
	c.progress.add()
}

func (c *collector) report() *Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	return &Report{
		Protocol:  c.job.Protocol,
		StartedAt: c.started,
		Elapsed:   time.Since(c.started),
		Sent:      c.stats.Completed,
		Succeeded: c.stats.Completed - c.stats.Failed,
		Failed:    c.stats.Failed,
		Targets:   append([]string(nil), c.targets...),
		Stats:     c.stats,
	}
}
