// Package stress drives the long-running test loop: keep the agent service up,
// push traffic through it, verify the agent saw that traffic, and bounce the
// service on a schedule.
package stress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/studiowebux/agentstress/internal/agent"
	"github.com/studiowebux/agentstress/internal/config"
	"github.com/studiowebux/agentstress/internal/exception"
	"github.com/studiowebux/agentstress/internal/logging"
	"github.com/studiowebux/agentstress/internal/steering"
	"github.com/studiowebux/agentstress/internal/store"
	"github.com/studiowebux/agentstress/internal/traffic"
	"github.com/studiowebux/agentstress/internal/validate"
	"golang.org/x/sync/errgroup"
)

// TrafficRunner executes traffic jobs
type TrafficRunner interface {
	Run(ctx context.Context, job traffic.Job) (*traffic.Report, error)
	RunAB(ctx context.Context, job traffic.ABJob) (*traffic.ABResult, error)
}

// BatchValidator checks that traffic reached the agent
type BatchValidator interface {
	ValidateBatch(ctx context.Context, processMap map[string][]string, exceptions validate.ExceptionChecker) *validate.BatchResult
}

// LogCursor positions the log reader the validator consumes
type LogCursor interface {
	SeekToNow()
	SeekToTimeBuffer(window time.Duration)
}

// Recorder persists runs and batches
type Recorder interface {
	CreateRun(run *store.Run) error
	UpdateRun(run *store.Run) error
	SaveBatch(iteration int, res *validate.BatchResult) error
}

// Runner is the stress loop. Service, Traffic, Logs and Validator are
// required; the rest are optional.
type Runner struct {
	Tool      *config.Tool
	Service   agent.ServiceController
	Traffic   TrafficRunner
	Logs      LogCursor
	Validator BatchValidator
	Recorder  Recorder
	Power     agent.PowerManager
	Toggler   agent.ConfigToggler
	Log       *logrus.Entry

	// sleep waits d or until ctx is done, reporting whether it waited fully
	sleep func(ctx context.Context, d time.Duration) bool
}

// Summary aggregates a finished loop
type Summary struct {
	Iterations        int
	Errors            int
	ValidationsPassed int
	ValidationsFailed int
	Cancelled         bool
	Elapsed           time.Duration
	Wakes             []agent.WakeHistoryEntry
}

// IterationResult is the outcome of one iteration
type IterationResult struct {
	Iteration int
	Reports   []*traffic.Report
	AB        []*traffic.ABResult
	Batch     *validate.BatchResult // nil when validation did not run
	Stopped   bool
	Wake      *agent.WakeHistoryEntry
}

func (r *Runner) logger() *logrus.Entry {
	if r.Log == nil {
		return logging.Discard()
	}
	return r.Log
}

func (r *Runner) wait(ctx context.Context, d time.Duration) bool {
	if r.sleep != nil {
		return r.sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Run executes Tool.LoopTimes iterations. An iteration that fails is logged
// and retried after RetryWaitSec; the loop only ends early on cancellation.
func (r *Runner) Run(ctx context.Context) *Summary {
	log := r.logger()
	tool := r.Tool
	start := time.Now()
	sum := &Summary{}
	defer func() { sum.Elapsed = time.Since(start) }()

	log.Infof("--- Start Testing. Total iterations: %d ---", tool.LoopTimes)
	log.Infof("Stop service every %d run(s) (0 = never)", tool.StopSvcInterval)

	for n := 1; n <= tool.LoopTimes; n++ {
		if ctx.Err() != nil {
			sum.Cancelled = true
			break
		}
		log.Infof("==== Iteration %d / %d ====", n, tool.LoopTimes)

		res, err := r.Iterate(ctx, n)
		if res != nil {
			if res.Batch != nil {
				if res.Batch.Passed {
					sum.ValidationsPassed++
				} else if !res.Batch.Cancelled {
					sum.ValidationsFailed++
				}
			}
			if res.Wake != nil {
				sum.Wakes = append(sum.Wakes, *res.Wake)
			}
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				sum.Cancelled = true
				break
			}
			sum.Errors++
			log.WithError(err).WithField("iteration", n).Error("An error occurred")
			log.Infof("Retrying in %d seconds", tool.RetryWaitSec)
			if !r.wait(ctx, seconds(tool.RetryWaitSec)) {
				sum.Cancelled = true
				break
			}
		}
		sum.Iterations = n
	}

	if sum.Cancelled {
		log.Info("Loop stopped by user")
	} else {
		log.Infof("--- Testing finished after %d iterations ---", sum.Iterations)
	}
	return sum
}

// Iterate runs a single iteration
func (r *Runner) Iterate(ctx context.Context, n int) (*IterationResult, error) {
	log := r.logger().WithField("iteration", n)
	tool := r.Tool
	res := &IterationResult{Iteration: n}

	if err := r.ensureRunning(ctx, log); err != nil {
		return res, err
	}

	if r.Toggler != nil && tool.ToggleInterval > 0 && n%tool.ToggleInterval == 0 {
		log.Info("Toggling agent feature")
		if err := r.Toggler.Toggle(ctx); err != nil {
			return res, fmt.Errorf("failed to toggle agent feature: %w", err)
		}
		defer func() {
			if err := r.Toggler.Restore(context.WithoutCancel(ctx)); err != nil {
				log.WithError(err).Error("Failed to restore agent feature")
			}
		}()
	}

	if tb := tool.Validation.TimeBufferSec; tb > 0 {
		r.Logs.SeekToTimeBuffer(seconds(tb))
	} else {
		r.Logs.SeekToNow()
	}

	r.generate(ctx, log, n, res)
	if ctx.Err() != nil {
		return res, ctx.Err()
	}

	if err := r.validate(ctx, log, n, res); err != nil {
		return res, err
	}

	if tool.StopSvcInterval > 0 && n%tool.StopSvcInterval == 0 {
		log.Infof("Attempting to STOP '%s'", tool.ServiceName)
		if err := r.Service.Stop(ctx, tool.ServiceName, seconds(tool.StopTimeoutSec)); err != nil {
			return res, fmt.Errorf("failed to stop service: %w", err)
		}
		res.Stopped = true
		log.Infof("Current status: %s", r.Service.Status(ctx, tool.ServiceName))
	} else {
		log.Infof("Skipping service stop for this iteration (run %d)", n)
	}

	if r.Power != nil && tool.SleepInterval > 0 && n%tool.SleepInterval == 0 {
		log.Infof("Entering sleep for %d seconds", tool.SleepDurationSec)
		entry, err := r.Power.EnterSleep(ctx, seconds(tool.SleepDurationSec))
		if err != nil {
			return res, fmt.Errorf("sleep cycle failed: %w", err)
		}
		res.Wake = &entry
		log.WithFields(logrus.Fields{
			"actual": entry.Actual,
			"drift":  entry.Drift,
		}).Info("Woke from sleep")
	}

	if !r.wait(ctx, seconds(tool.CooldownSec)) {
		return res, ctx.Err()
	}
	return res, nil
}

// ensureRunning starts the service if needed and waits for it to settle
func (r *Runner) ensureRunning(ctx context.Context, log *logrus.Entry) error {
	tool := r.Tool
	status := r.Service.Status(ctx, tool.ServiceName)
	log.Infof("Current status: %s", status)

	wait := seconds(tool.SettleSec)
	if status != agent.StatusRunning {
		if err := r.Service.Start(ctx, tool.ServiceName); err != nil {
			return err
		}
		wait = seconds(tool.StartupWaitSec)
		log.Infof("Waiting for %s", wait)
	}
	if !r.wait(ctx, wait) {
		return ctx.Err()
	}
	return nil
}

// generate runs every configured job concurrently. Job errors are recorded,
// never returned.
func (r *Runner) generate(ctx context.Context, log *logrus.Entry, n int, res *IterationResult) {
	jobs := r.Tool.Jobs(log)
	abJobs := r.Tool.ABJobs()
	if len(jobs) == 0 && len(abJobs) == 0 {
		log.Info("No traffic configured for this iteration")
		return
	}

	var mu sync.Mutex
	g := new(errgroup.Group)

	for _, job := range jobs {
		g.Go(func() error {
			rep := r.runJob(ctx, log, n, job)
			if rep != nil {
				mu.Lock()
				res.Reports = append(res.Reports, rep)
				mu.Unlock()
			}
			return nil
		})
	}

	if len(abJobs) > 0 {
		// ab runs are heavy; one at a time alongside the other jobs
		g.Go(func() error {
			for _, job := range abJobs {
				if ctx.Err() != nil {
					return nil
				}
				out, err := r.Traffic.RunAB(ctx, job)
				if err != nil {
					log.WithError(err).WithField("url", job.URL).Error("ab run failed")
					continue
				}
				mu.Lock()
				res.AB = append(res.AB, out)
				mu.Unlock()
			}
			return nil
		})
	}

	g.Wait()
}

func (r *Runner) runJob(ctx context.Context, log *logrus.Entry, n int, job traffic.Job) *traffic.Report {
	jlog := log.WithField("protocol", job.Protocol.String())

	var run *store.Run
	if r.Recorder != nil {
		run = store.NewRun(n, job.Protocol)
		if err := r.Recorder.CreateRun(run); err != nil {
			jlog.WithError(err).Warn("Failed to record run")
			run = nil
		}
	}

	rep, err := r.Traffic.Run(ctx, job)
	if err != nil {
		jlog.WithError(err).Error("Traffic job failed")
	}

	if run != nil {
		run.Finish(rep, err)
		if err := r.Recorder.UpdateRun(run); err != nil {
			jlog.WithError(err).Warn("Failed to record run result")
		}
	}
	return rep
}

// validate checks the HTTPS targets of this iteration when the steering mode
// routes web traffic through the agent
func (r *Runner) validate(ctx context.Context, log *logrus.Entry, n int, res *IterationResult) error {
	v := r.Tool.Validation
	if !v.Enable {
		return nil
	}

	var urls []string
	for _, rep := range res.Reports {
		if rep.Protocol == traffic.ProtocolHTTPS {
			urls = append(urls, rep.Targets...)
		}
	}
	if len(urls) == 0 {
		return nil
	}

	sc, err := steering.Load(r.Tool.Agent.SteeringPath, r.Tool.Agent.SteeringModeQuery)
	if err != nil {
		log.WithError(err).Warn("Steering config unavailable, skipping validation")
		return nil
	}
	if !sc.ShouldValidate() {
		log.WithField("mode", sc.Mode()).Info("Steering mode does not route web traffic, skipping validation")
		return nil
	}

	var checker validate.ExceptionChecker
	if list, err := exception.Load(r.Tool.Agent.ExceptionPath); err != nil {
		log.WithError(err).Warn("Exception list unavailable, validating without exceptions")
	} else {
		checker = list.Match
	}

	if !r.wait(ctx, seconds(v.FlushDelaySec)) {
		return ctx.Err()
	}

	batch := r.Validator.ValidateBatch(ctx, map[string][]string{v.CurlProcess: urls}, checker)
	res.Batch = batch
	if batch.Cancelled {
		return ctx.Err()
	}

	if r.Recorder != nil {
		if err := r.Recorder.SaveBatch(n, batch); err != nil {
			log.WithError(err).Warn("Failed to record validation batch")
		}
	}
	if !batch.Passed {
		log.WithField("failed", len(batch.Failed())).Error("Validation failed")
	}
	return nil
}
