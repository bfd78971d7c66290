// Package validate decides whether generated traffic went through the agent.
//
// A batch maps an owning process to the URLs it requested. Each URL is first
// exempted (plain HTTP, exception list), then searched for in the agent log
// over a few polling rounds, and finally checked by the issuer of the
// certificate its host presents, with one delayed retry.
package validate

import (
	"context"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/studiowebux/agentstress/internal/certprobe"
	"github.com/studiowebux/agentstress/internal/logging"
)

// Defaults for the polling and re-check protocol
const (
	DefaultRounds        = 5
	DefaultRoundInterval = 2 * time.Second
	DefaultRecheckDelay  = 20 * time.Second
)

// DefaultTrustedIssuers are issuer substrings of the agent's inspection CA
var DefaultTrustedIssuers = []string{"goskope.com", "netskope.com"}

// LogSource yields agent log content appended since the previous call
type LogSource interface {
	ReadNew() string
}

// IssuerProber returns the issuer DN a URL's host presents, or "" on failure
type IssuerProber interface {
	Issuer(ctx context.Context, rawURL string) string
}

// ExceptionChecker reports whether a URL is on the agent's bypass list
type ExceptionChecker func(rawURL string) bool

// Basis records why a target was judged verified or not
type Basis string

const (
	BasisNone        Basis = "none"
	BasisLog         Basis = "log"
	BasisBypassLog   Basis = "bypass-log"
	BasisPlainHTTP   Basis = "plain-http"
	BasisException   Basis = "exception"
	BasisCertificate Basis = "certificate"
	BasisRecheck     Basis = "certificate-recheck"
)

// Target is one URL driven by one process
type Target struct {
	Process  string
	URL      string
	Host     string
	Verified bool
	Basis    Basis
	Issuer   string

	tunnel *regexp.Regexp
	bypass *regexp.Regexp
}

// BatchResult is the outcome of one validation batch
type BatchResult struct {
	ID        string
	StartedAt time.Time
	Elapsed   time.Duration
	Rounds    int
	Cancelled bool
	Passed    bool
	Targets   []Target
}

// Failed returns the targets that were not verified
func (b *BatchResult) Failed() []Target {
	var out []Target
	for _, t := range b.Targets {
		if !t.Verified {
			out = append(out, t)
		}
	}
	return out
}

// Options tunes the validation protocol
type Options struct {
	Rounds         int
	RoundInterval  time.Duration
	RecheckDelay   time.Duration
	TrustedIssuers []string
}

// DefaultOptions returns the standard five rounds, two seconds apart, with a
// twenty second certificate re-check
func DefaultOptions() Options {
	return Options{
		Rounds:         DefaultRounds,
		RoundInterval:  DefaultRoundInterval,
		RecheckDelay:   DefaultRecheckDelay,
		TrustedIssuers: DefaultTrustedIssuers,
	}
}

// Validator correlates traffic against the agent log.
// It owns its LogSource; two validators must not share one.
type Validator struct {
	logs   LogSource
	prober IssuerProber
	opts   Options
	log    *logrus.Entry
}

// New creates a Validator. Zero option fields take their defaults.
func New(logs LogSource, prober IssuerProber, opts Options, log *logrus.Entry) *Validator {
	def := DefaultOptions()
	if opts.Rounds <= 0 {
		opts.Rounds = def.Rounds
	}
	if opts.RoundInterval < 0 {
		opts.RoundInterval = 0
	}
	if opts.RecheckDelay < 0 {
		opts.RecheckDelay = 0
	}
	if len(opts.TrustedIssuers) == 0 {
		opts.TrustedIssuers = def.TrustedIssuers
	}
	if log == nil {
		log = logging.Discard()
	}
	if prober == nil {
		prober = certprobe.New(log)
	}
	return &Validator{logs: logs, prober: prober, opts: opts, log: log}
}

// Validate reports whether every URL in processMap was verified
func (v *Validator) Validate(ctx context.Context, processMap map[string][]string, exceptions ExceptionChecker) bool {
	return v.ValidateBatch(ctx, processMap, exceptions).Passed
}

// ValidateBatch runs the full protocol and returns per-target outcomes
func (v *Validator) ValidateBatch(ctx context.Context, processMap map[string][]string, exceptions ExceptionChecker) *BatchResult {
	res := &BatchResult{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Targets:   buildTargets(processMap),
	}
	log := v.log.WithField("batch", res.ID)
	defer func() { res.Elapsed = time.Since(res.StartedAt) }()

	if len(res.Targets) == 0 {
		res.Passed = true
		return res
	}
	log.WithField("targets", len(res.Targets)).Info("Validation batch started")

	for i := range res.Targets {
		t := &res.Targets[i]
		switch {
		case isPlainHTTP(t.URL):
			v.mark(log, t, BasisPlainHTTP)
		case exceptions != nil && exceptions(t.URL):
			v.mark(log, t, BasisException)
		}
	}

	if v.logRounds(ctx, log, res) {
		res.Passed = true
		return res
	}
	if res.Cancelled {
		log.Warn("Validation cancelled")
		return res
	}

	candidates := v.probe(ctx, log, pending(res), BasisCertificate)
	if len(candidates) > 0 {
		log.WithFields(logrus.Fields{
			"candidates": len(candidates),
			"delay":      v.opts.RecheckDelay,
		}).Warn("Certificate check failed, re-checking after delay")

		if !sleep(ctx, v.opts.RecheckDelay) {
			res.Cancelled = true
			log.Warn("Validation cancelled")
			return res
		}
		for _, t := range v.probe(ctx, log, candidates, BasisRecheck) {
			log.WithFields(logrus.Fields{
				"process": t.Process,
				"url":     t.URL,
				"issuer":  t.Issuer,
				"basis":   BasisNone,
			}).Error("Traffic not verified")
		}
	}

	res.Passed = len(res.Failed()) == 0
	log.WithField("passed", res.Passed).Info("Validation batch finished")
	return res
}

// logRounds polls the log until every target is verified or the rounds run
// out. The buffer accumulates across rounds because lines may arrive split.
func (v *Validator) logRounds(ctx context.Context, log *logrus.Entry, res *BatchResult) bool {
	if len(pending(res)) == 0 {
		return true
	}

	var buf strings.Builder
	for round := 1; round <= v.opts.Rounds; round++ {
		res.Rounds = round
		buf.WriteString(v.logs.ReadNew())
		content := buf.String()

		for _, t := range pending(res) {
			switch {
			case t.tunnel.MatchString(content):
				v.mark(log, t, BasisLog)
			case t.bypass.MatchString(content):
				v.mark(log, t, BasisBypassLog)
			}
		}

		left := len(pending(res))
		if left == 0 {
			return true
		}
		log.WithFields(logrus.Fields{"round": round, "pending": left}).Debug("Log round finished")

		if round < v.opts.Rounds && !sleep(ctx, v.opts.RoundInterval) {
			res.Cancelled = true
			return false
		}
	}
	return false
}

// probe checks issuers for targets and returns those still failing.
// Each host is probed once per pass, on the prober's port rather than the
// URL's.
func (v *Validator) probe(ctx context.Context, log *logrus.Entry, targets []*Target, basis Basis) []*Target {
	issuers := make(map[string]string)
	var failed []*Target

	for _, t := range targets {
		issuer, ok := issuers[t.Host]
		if !ok {
			issuer = v.prober.Issuer(ctx, probeHost(t.Host))
			issuers[t.Host] = issuer
		}
		t.Issuer = issuer

		if v.trusted(issuer) {
			v.mark(log, t, basis)
			continue
		}
		log.WithFields(logrus.Fields{
			"process": t.Process,
			"url":     t.URL,
			"issuer":  issuer,
		}).Debug("Issuer not trusted")
		failed = append(failed, t)
	}
	return failed
}

// probeHost brackets IPv6 literals so the host parses without a port
func probeHost(host string) string {
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}

func (v *Validator) trusted(issuer string) bool {
	if issuer == "" {
		return false
	}
	lower := strings.ToLower(issuer)
	for _, s := range v.opts.TrustedIssuers {
		if s != "" && strings.Contains(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

func (v *Validator) mark(log *logrus.Entry, t *Target, basis Basis) {
	t.Verified = true
	t.Basis = basis
	entry := log.WithFields(logrus.Fields{
		"process": t.Process,
		"url":     t.URL,
		"basis":   basis,
	})
	if t.Issuer != "" {
		entry = entry.WithField("issuer", t.Issuer)
	}
	entry.Info("Traffic verified")
}

func pending(res *BatchResult) []*Target {
	var out []*Target
	for i := range res.Targets {
		if !res.Targets[i].Verified {
			out = append(out, &res.Targets[i])
		}
	}
	return out
}

// buildTargets flattens the map in a stable order, dropping empty buckets and
// duplicate URLs within a bucket
func buildTargets(processMap map[string][]string) []Target {
	processes := make([]string, 0, len(processMap))
	for p, urls := range processMap {
		if len(urls) > 0 {
			processes = append(processes, p)
		}
	}
	sort.Strings(processes)

	var targets []Target
	for _, p := range processes {
		seen := make(map[string]bool)
		for _, u := range processMap[p] {
			u = strings.TrimSpace(u)
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true

			host := certprobe.Hostname(u)
			targets = append(targets, Target{
				Process: p,
				URL:     u,
				Host:    host,
				Basis:   BasisNone,
				tunnel:  TunnelPattern(p, host),
				bypass:  BypassPattern(p, host),
			})
		}
	}
	return targets
}

// TunnelPattern matches the agent line for a flow tunneled from process to host
func TunnelPattern(process, host string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)Tunneling flow from addr: [^\n]*?process: ` +
		regexp.QuoteMeta(process) + ` to host: ` + regexp.QuoteMeta(host) + `[,:]`)
}

// BypassPattern matches the agent line for a flow from process bypassed to an
// exception host
func BypassPattern(process, host string) *regexp.Regexp {
	return regexp.MustCompile(`(?im)bypassing flow to exception host: ` +
		regexp.QuoteMeta(host) + `[,:\s][^\n]*?process: ` + regexp.QuoteMeta(process) + `(?:[,\s]|$)`)
}

func isPlainHTTP(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return strings.HasPrefix(strings.ToLower(rawURL), "http://")
	}
	return strings.EqualFold(u.Scheme, "http")
}

// sleep waits for d or until ctx is done, reporting whether the full wait elapsed
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
