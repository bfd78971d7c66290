// Package urlcheck filters URL lists down to sites that still answer, so
// traffic runs are not wasted on dead hosts.
package urlcheck

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/studiowebux/agentstress/internal/logging"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTimeout bounds one liveness probe
	DefaultTimeout = 5 * time.Second
	// DefaultConcurrency is the probe pool size
	DefaultConcurrency = 16
	// BrowserUserAgent makes the probe look like a desktop browser
	BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Result is the outcome for one URL
type Result struct {
	URL    string
	Alive  bool
	Status int // 0 when no response was received
}

// Checker probes URLs with HEAD requests
type Checker struct {
	Client      *http.Client
	Timeout     time.Duration
	Concurrency int
	Log         *logrus.Entry
}

// New creates a checker with the default timeout and pool size
func New(log *logrus.Entry) *Checker {
	if log == nil {
		log = logging.Discard()
	}
	return &Checker{
		Client:      &http.Client{},
		Timeout:     DefaultTimeout,
		Concurrency: DefaultConcurrency,
		Log:         log,
	}
}

// Check sends one HEAD request, following redirects. Any status below 400 is
// alive, and so is 403.
func (c *Checker) Check(ctx context.Context, rawURL string) Result {
	res := Result{URL: rawURL}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return res
	}
	req.Header.Set("User-Agent", BrowserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return res
	}
	resp.Body.Close()

	res.Status = resp.StatusCode
	res.Alive = resp.StatusCode < 400 || resp.StatusCode == http.StatusForbidden
	return res
}

// CheckAlive reports whether the URL answers
func (c *Checker) CheckAlive(ctx context.Context, rawURL string) bool {
	return c.Check(ctx, rawURL).Alive
}

// CheckAll probes every URL on a bounded pool. Results keep input order.
// Cancellation stops scheduling new probes; unprobed URLs are reported dead.
func (c *Checker) CheckAll(ctx context.Context, urls []string) []Result {
	results := make([]Result, len(urls))
	for i, u := range urls {
		results[i].URL = u
	}

	limit := c.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	var done atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(limit)
	for i, u := range urls {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = c.Check(ctx, u)
			n := done.Add(1)
			state := "DEAD"
			if results[i].Alive {
				state = "ALIVE"
			}
			c.Log.WithFields(logrus.Fields{"url": u, "status": results[i].Status}).
				Infof("[%d/%d] %s", n, len(urls), state)
			return nil
		})
	}
	g.Wait()
	return results
}

// Alive returns the URLs of the alive results in order
func Alive(results []Result) []string {
	var out []string
	for _, r := range results {
		if r.Alive {
			out = append(out, r.URL)
		}
	}
	return out
}

// ReadURLs reads one URL per line, trimming whitespace and skipping blank
// lines and # comments. Duplicates are kept.
func ReadURLs(file string) ([]string, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open URL list: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read URL list %s: %w", file, err)
	}
	return urls, nil
}

// Dedupe drops repeated URLs and any URL found in known, keeping first-seen
// order. It returns the kept URLs and how many were skipped.
func Dedupe(urls []string, known []string) ([]string, int) {
	seen := make(map[string]bool, len(urls)+len(known))
	for _, u := range known {
		seen[u] = true
	}
	var out []string
	skipped := 0
	for _, u := range urls {
		if seen[u] {
			skipped++
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out, skipped
}

// WriteURLs writes one URL per line
func WriteURLs(file string, urls []string) error {
	var b strings.Builder
	for _, u := range urls {
		b.WriteString(u)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(file, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write URL list: %w", err)
	}
	return nil
}
