package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/studiowebux/agentstress/internal/certprobe"
	"github.com/studiowebux/agentstress/internal/exception"
	"github.com/studiowebux/agentstress/internal/logtail"
	"github.com/studiowebux/agentstress/internal/urlcheck"
	"github.com/studiowebux/agentstress/internal/validate"
)

// ValidateOptions checks URLs already driven through the agent
type ValidateOptions struct {
	GlobalOptions
	Process        string
	URLs           []string
	URLFile        string
	Since          time.Duration // how far back in the log to look
	LogPath        string
	ExceptionPath  string
	Rounds         int
	RoundInterval  time.Duration
	RecheckDelay   time.Duration
	TrustedIssuers []string
}

// Validate correlates the URLs against the agent log and exits non-zero
// when any is not verified
func Validate(opts ValidateOptions) error {
	urls := append([]string(nil), opts.URLs...)
	if opts.URLFile != "" {
		more, err := urlcheck.ReadURLs(opts.URLFile)
		if err != nil {
			return err
		}
		urls = append(urls, more...)
	}
	if len(urls) == 0 {
		return fmt.Errorf("no URLs to validate")
	}

	s, err := openSession(opts.GlobalOptions, true)
	if err != nil {
		return err
	}
	defer s.Close()

	logPath := opts.LogPath
	if logPath == "" {
		logPath = logtail.DefaultLogPath()
	}
	tailer := logtail.New(logPath, logtail.WithLogger(s.component("logtail")))
	if opts.Since > 0 {
		tailer.SeekToTimeBuffer(opts.Since)
	} else {
		tailer.SeekToNow()
	}

	var checker validate.ExceptionChecker
	excPath := opts.ExceptionPath
	if excPath == "" {
		excPath = exception.DefaultPath()
	}
	if list, err := exception.Load(excPath); err != nil {
		s.logger.WithError(err).Warn("Exception list unavailable, validating without exceptions")
	} else {
		checker = list.Match
	}

	vlog := s.component("validate")
	v := validate.New(tailer, certprobe.New(vlog), validate.Options{
		Rounds:         opts.Rounds,
		RoundInterval:  opts.RoundInterval,
		RecheckDelay:   opts.RecheckDelay,
		TrustedIssuers: opts.TrustedIssuers,
	}, vlog)

	ctx, cancel := signalContext()
	defer cancel()

	res := v.ValidateBatch(ctx, map[string][]string{opts.Process: urls}, checker)
	if s.store != nil {
		if err := s.store.SaveBatch(0, res); err != nil {
			s.logger.WithError(err).Warn("Failed to record validation batch")
		}
	}
	renderBatch(s.out, res)

	if res.Cancelled {
		return context.Canceled
	}
	if !res.Passed {
		return fmt.Errorf("%d of %d targets not verified", len(res.Failed()), len(res.Targets))
	}
	return nil
}

// CertOptions prints the issuer served for a URL
type CertOptions struct {
	GlobalOptions
	URL     string
	Port    string
	Timeout time.Duration
}

// Cert prints the issuer DN, or reports that no certificate was obtained
func Cert(opts CertOptions) error {
	s, err := openSession(opts.GlobalOptions, false)
	if err != nil {
		return err
	}
	defer s.Close()

	p := certprobe.New(s.component("certprobe"))
	if opts.Port != "" {
		p.Port = opts.Port
	}
	if opts.Timeout > 0 {
		p.Timeout = opts.Timeout
	}

	ctx, cancel := signalContext()
	defer cancel()

	issuer := p.Issuer(ctx, opts.URL)
	if issuer == "" {
		return fmt.Errorf("no certificate obtained from %s", certprobe.Hostname(opts.URL))
	}
	fmt.Fprintln(s.out, issuer)
	return nil
}
