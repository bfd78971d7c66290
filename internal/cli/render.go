package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/studiowebux/agentstress/internal/store"
	"github.com/studiowebux/agentstress/internal/stress"
	"github.com/studiowebux/agentstress/internal/traffic"
	"github.com/studiowebux/agentstress/internal/validate"
)

var (
	colorCyan  = lipgloss.Color("86")
	colorGreen = lipgloss.Color("42")
	colorRed   = lipgloss.Color("196")
	colorGray  = lipgloss.Color("241")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	labelStyle  = lipgloss.NewStyle().Foreground(colorGray).Width(14)
	okStyle     = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	subtleStyle = lipgloss.NewStyle().Foreground(colorGray)
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorCyan).
			Padding(0, 1)
)

func row(b *strings.Builder, label string, value interface{}) {
	b.WriteString(labelStyle.Render(label) + fmt.Sprint(value) + "\n")
}

func verdict(ok bool, yes, no string) string {
	if ok {
		return okStyle.Render(yes)
	}
	return failStyle.Render(no)
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}

// renderReport prints a traffic job report
func renderReport(w io.Writer, rep *traffic.Report) {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Traffic - "+strings.ToUpper(rep.Protocol.String())) + "\n\n")
	row(&b, "Elapsed", formatDuration(rep.Elapsed))
	row(&b, "Sent", rep.Sent)
	row(&b, "Succeeded", rep.Succeeded)
	row(&b, "Failed", rep.Failed)
	row(&b, "Targets", len(rep.Targets))
	if s := rep.Stats; s != nil && s.Completed > 0 {
		row(&b, "Success rate", fmt.Sprintf("%.1f%%", s.SuccessRate()))
		row(&b, "Latency", fmt.Sprintf("avg %.1fms  min %dms  max %dms", s.AvgMs(), s.MinMs(), s.MaxMs()))
		row(&b, "Percentiles", fmt.Sprintf("p50 %dms  p95 %dms  p99 %dms", s.P50(), s.P95(), s.P99()))
	}
	if rep.Elapsed > 0 {
		row(&b, "Units/sec", fmt.Sprintf("%.2f", float64(rep.Sent)/rep.Elapsed.Seconds()))
	}
	if rep.Cancelled {
		b.WriteString("\n" + failStyle.Render("Cancelled"))
	}
	fmt.Fprintln(w, boxStyle.Render(strings.TrimRight(b.String(), "\n")))
}

// renderAB prints an ab run result
func renderAB(w io.Writer, url string, res *traffic.ABResult) {
	var b strings.Builder
	b.WriteString(titleStyle.Render("AB - "+url) + "\n\n")
	if res.Skipped {
		b.WriteString(subtleStyle.Render("ab not installed, skipped"))
		fmt.Fprintln(w, boxStyle.Render(b.String()))
		return
	}
	row(&b, "Elapsed", formatDuration(res.Elapsed))
	row(&b, "Complete", res.Complete)
	row(&b, "Failed", res.Failed)
	if res.Cancelled {
		b.WriteString("\n" + failStyle.Render("Cancelled"))
	}
	fmt.Fprintln(w, boxStyle.Render(strings.TrimRight(b.String(), "\n")))
}

// renderBatch prints a validation batch with one line per target
func renderBatch(w io.Writer, res *validate.BatchResult) {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Validation") + "  " + verdict(res.Passed, "PASSED", "FAILED") + "\n\n")
	row(&b, "Batch", res.ID)
	row(&b, "Elapsed", formatDuration(res.Elapsed))
	row(&b, "Log rounds", res.Rounds)
	b.WriteString("\n")
	for _, t := range res.Targets {
		mark := verdict(t.Verified, "ok  ", "FAIL")
		line := fmt.Sprintf("%s %s %s %s", mark, t.Process, t.URL, subtleStyle.Render("("+string(t.Basis)+")"))
		if t.Issuer != "" {
			line += subtleStyle.Render(" issuer: " + t.Issuer)
		}
		b.WriteString(line + "\n")
	}
	if res.Cancelled {
		b.WriteString("\n" + failStyle.Render("Cancelled"))
	}
	fmt.Fprintln(w, boxStyle.Render(strings.TrimRight(b.String(), "\n")))
}

// renderSummary prints the stress loop summary
func renderSummary(w io.Writer, sum *stress.Summary, logFile string) {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Stress Test - Finished") + "\n\n")
	row(&b, "Iterations", sum.Iterations)
	row(&b, "Elapsed", formatDuration(sum.Elapsed))
	row(&b, "Errors", sum.Errors)
	row(&b, "Validations", fmt.Sprintf("%s / %s",
		okStyle.Render(fmt.Sprintf("%d passed", sum.ValidationsPassed)),
		failStyle.Render(fmt.Sprintf("%d failed", sum.ValidationsFailed))))
	if len(sum.Wakes) > 0 {
		var drift time.Duration
		for _, e := range sum.Wakes {
			drift += e.Drift
		}
		row(&b, "Sleep cycles", fmt.Sprintf("%d (avg drift %s)", len(sum.Wakes), drift/time.Duration(len(sum.Wakes))))
	}
	if logFile != "" {
		row(&b, "Log file", logFile)
	}
	if sum.Cancelled {
		b.WriteString("\n" + failStyle.Render("Stopped by user"))
	}
	fmt.Fprintln(w, boxStyle.Render(strings.TrimRight(b.String(), "\n")))
}

// renderHistory prints recent runs and failed validation results
func renderHistory(w io.Writer, runs []*store.Run, failed []*store.Result) {
	fmt.Fprintln(w, titleStyle.Render("Recent traffic runs"))
	if len(runs) == 0 {
		fmt.Fprintln(w, subtleStyle.Render("  none"))
	}
	for _, r := range runs {
		status := r.Status
		switch r.Status {
		case store.StatusCompleted:
			status = okStyle.Render(status)
		case store.StatusFailed, store.StatusCancelled:
			status = failStyle.Render(status)
		}
		fmt.Fprintf(w, "  #%-5d %s  iter %-4d %-5s %-10s sent %-7d failed %-6d p95 %dms\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Iteration, r.Protocol, status,
			r.Sent, r.Failed, r.P95DurationMs)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Failed validations"))
	if len(failed) == 0 {
		fmt.Fprintln(w, subtleStyle.Render("  none"))
	}
	for _, r := range failed {
		line := fmt.Sprintf("  %s %s %s", subtleStyle.Render(shortID(r.BatchID)), r.Process, r.URL)
		if r.Issuer != "" {
			line += subtleStyle.Render(" issuer: " + r.Issuer)
		}
		fmt.Fprintln(w, line)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
