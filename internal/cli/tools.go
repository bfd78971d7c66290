package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/studiowebux/agentstress/internal/logtail"
	"github.com/studiowebux/agentstress/internal/urlcheck"
)

// TailOptions follows the agent log
type TailOptions struct {
	GlobalOptions
	LogPath string
	Since   time.Duration // replay this much history first
	Pattern string        // when set, stop once the pattern appears
	Regex   bool
	Poll    time.Duration
}

// Tail prints new agent log content until Ctrl-C, or until Pattern matches
func Tail(opts TailOptions) error {
	s, err := openSession(GlobalOptions{LogLevel: opts.LogLevel, Quiet: true, Out: opts.Out}, false)
	if err != nil {
		return err
	}
	defer s.Close()

	path := opts.LogPath
	if path == "" {
		path = logtail.DefaultLogPath()
	}
	t := logtail.New(path, logtail.WithLogger(s.component("logtail")))
	if opts.Since > 0 {
		t.SeekToTimeBuffer(opts.Since)
	} else {
		t.SeekToNow()
	}

	ctx, cancel := signalContext()
	defer cancel()

	if opts.Pattern != "" {
		return waitFor(ctx, t, opts, s.out)
	}

	return t.Follow(ctx, opts.Poll, func(chunk string) {
		io.WriteString(s.out, chunk)
	})
}

func waitFor(ctx context.Context, t *logtail.Tailer, opts TailOptions, out io.Writer) error {
	poll := opts.Poll
	if poll <= 0 {
		poll = logtail.DefaultFollowPoll
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		ok, err := t.Check(opts.Pattern, opts.Regex)
		if err != nil {
			return err
		}
		if ok {
			fmt.Fprintf(out, "matched %q\n", opts.Pattern)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// URLCheckOptions filters a URL list down to live sites
type URLCheckOptions struct {
	GlobalOptions
	File        string
	KnownFile   string // URLs already in use are skipped
	Output      string // alive URLs are written here, stdout when empty
	Concurrency int
	Timeout     time.Duration
}

// URLCheck probes every URL in the file and writes the alive ones
func URLCheck(opts URLCheckOptions) error {
	urls, err := urlcheck.ReadURLs(opts.File)
	if err != nil {
		return err
	}

	s, err := openSession(opts.GlobalOptions, false)
	if err != nil {
		return err
	}
	defer s.Close()
	log := s.component("urlcheck")

	var known []string
	if opts.KnownFile != "" {
		if known, err = urlcheck.ReadURLs(opts.KnownFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	urls, skipped := urlcheck.Dedupe(urls, known)
	log.Infof("Found %d URLs to process, %d duplicates skipped", len(urls), skipped)

	c := urlcheck.New(log)
	if opts.Concurrency > 0 {
		c.Concurrency = opts.Concurrency
	}
	if opts.Timeout > 0 {
		c.Timeout = opts.Timeout
	}

	ctx, cancel := signalContext()
	defer cancel()

	alive := urlcheck.Alive(c.CheckAll(ctx, urls))
	log.Infof("Total processed: %d, alive: %d", len(urls), len(alive))

	if opts.Output == "" {
		for _, u := range alive {
			fmt.Fprintln(s.out, u)
		}
		return ctx.Err()
	}
	if err := urlcheck.WriteURLs(opts.Output, alive); err != nil {
		return err
	}
	log.WithField("file", opts.Output).Info("Alive URLs written")
	return ctx.Err()
}

// HistoryOptions lists persisted runs
type HistoryOptions struct {
	GlobalOptions
	Protocol string
	Limit    int
}

// History prints recent traffic runs and failed validations
func History(opts HistoryOptions) error {
	opts.Quiet = true
	s, err := openSession(opts.GlobalOptions, true)
	if err != nil {
		return err
	}
	defer s.Close()
	if s.store == nil {
		return fmt.Errorf("run database unavailable")
	}

	runs, err := s.store.ListRuns(opts.Protocol, opts.Limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	failed, err := s.store.ListFailedResults(opts.Limit)
	if err != nil {
		return fmt.Errorf("failed to list validation results: %w", err)
	}
	renderHistory(s.out, runs, failed)
	return nil
}
