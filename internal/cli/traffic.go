package cli

import (
	"fmt"
	"time"

	"github.com/studiowebux/agentstress/internal/store"
	"github.com/studiowebux/agentstress/internal/traffic"
	"github.com/studiowebux/agentstress/internal/urlcheck"
)

// TrafficOptions describes a one-off traffic job
type TrafficOptions struct {
	GlobalOptions
	Protocol    string
	Targets     []string
	TargetsFile string
	Count       int
	Duration    time.Duration
	Concurrency int
	Rate        float64
	Timeout     time.Duration
	Port        int
	IPv6        bool
	DNSServer   string
	CurlPath    string
	User        string
	Password    string
	RemoteDir   string
	FileSize    int64
}

// Job converts the options into a dispatcher job
func (o TrafficOptions) Job() (traffic.Job, error) {
	p, err := traffic.ParseProtocol(o.Protocol)
	if err != nil {
		return traffic.Job{}, err
	}

	targets := append([]string(nil), o.Targets...)
	if o.TargetsFile != "" {
		urls, err := urlcheck.ReadURLs(o.TargetsFile)
		if err != nil {
			return traffic.Job{}, err
		}
		targets = append(targets, urls...)
	}

	job := traffic.Job{
		Protocol:    p,
		Targets:     targets,
		Count:       o.Count,
		Duration:    o.Duration,
		Concurrency: o.Concurrency,
		RatePerSec:  o.Rate,
		Timeout:     o.Timeout,
		Port:        o.Port,
		IPv6:        o.IPv6,
		DNSServer:   o.DNSServer,
		CurlPath:    o.CurlPath,
	}
	switch p {
	case traffic.ProtocolFTP, traffic.ProtocolFTPS, traffic.ProtocolSFTP:
		job.Transfer = traffic.Transfer{
			Port:      o.Port,
			User:      o.User,
			Password:  o.Password,
			RemoteDir: o.RemoteDir,
			FileSize:  o.FileSize,
		}
	}
	return job, job.Validate()
}

// Traffic runs one job and prints its report
func Traffic(opts TrafficOptions) error {
	job, err := opts.Job()
	if err != nil {
		return fmt.Errorf("invalid traffic job: %w", err)
	}

	s, err := openSession(opts.GlobalOptions, true)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signalContext()
	defer cancel()

	var run *store.Run
	if s.store != nil {
		run = store.NewRun(0, job.Protocol)
		if err := s.store.CreateRun(run); err != nil {
			s.logger.WithError(err).Warn("Failed to record run")
			run = nil
		}
	}

	rep, err := traffic.NewDispatcher(s.component("traffic")).Run(ctx, job)
	if run != nil {
		run.Finish(rep, err)
		if err := s.store.UpdateRun(run); err != nil {
			s.logger.WithError(err).Warn("Failed to record run result")
		}
	}
	if err != nil {
		return err
	}

	renderReport(s.out, rep)
	return nil
}

// ABOptions describes a one-off ab load run
type ABOptions struct {
	GlobalOptions
	URL         string
	Path        string
	Requests    int
	Concurrency int
	Duration    time.Duration
	KeepAlive   bool
}

// AB runs the ab load tool against one URL
func AB(opts ABOptions) error {
	s, err := openSession(opts.GlobalOptions, false)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signalContext()
	defer cancel()

	res, err := traffic.NewDispatcher(s.component("traffic")).RunAB(ctx, traffic.ABJob{
		Path:        opts.Path,
		URL:         opts.URL,
		Requests:    opts.Requests,
		Concurrency: opts.Concurrency,
		Duration:    opts.Duration,
		KeepAlive:   opts.KeepAlive,
	})
	if err != nil {
		return err
	}
	renderAB(s.out, opts.URL, res)
	return nil
}
