package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/studiowebux/agentstress/internal/store"
	"github.com/studiowebux/agentstress/internal/stress"
	"github.com/studiowebux/agentstress/internal/traffic"
	"github.com/studiowebux/agentstress/internal/validate"
)

func TestTrafficOptions_Job(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "urls.txt")
	if err := os.WriteFile(file, []byte("https://b.example\n"), 0644); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	tests := []struct {
		name    string
		opts    TrafficOptions
		wantErr error
		check   func(t *testing.T, j traffic.Job)
	}{
		{
			name: "https with file",
			opts: TrafficOptions{Protocol: "HTTPS", Targets: []string{"https://a.example"}, TargetsFile: file, Count: 5},
			check: func(t *testing.T, j traffic.Job) {
				if len(j.Targets) != 2 || j.Targets[1] != "https://b.example" {
					t.Errorf("Targets = %v", j.Targets)
				}
			},
		},
		{
			name: "sftp transfer",
			opts: TrafficOptions{Protocol: "sftp", Targets: []string{"h"}, Count: 1, Port: 2222, User: "u", Password: "p"},
			check: func(t *testing.T, j traffic.Job) {
				if j.Transfer.Port != 2222 || j.Transfer.User != "u" {
					t.Errorf("Transfer = %+v", j.Transfer)
				}
			},
		},
		{
			name:    "no stop condition",
			opts:    TrafficOptions{Protocol: "dns", Targets: []string{"example.com"}},
			wantErr: traffic.ErrNoStopCondition,
		},
		{
			name:    "unknown protocol",
			opts:    TrafficOptions{Protocol: "gopher", Targets: []string{"x"}, Count: 1},
			wantErr: traffic.ErrUnknownProtocol,
		},
		{
			name:    "no targets",
			opts:    TrafficOptions{Protocol: "udp", Count: 1, Port: 53},
			wantErr: traffic.ErrNoTargets,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := tt.opts.Job()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Job() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Job() failed: %v", err)
			}
			tt.check(t, job)
		})
	}
}

func TestRenderReport(t *testing.T) {
	stats := traffic.NewStats()
	stats.Add(10*time.Millisecond, false)
	stats.Add(30*time.Millisecond, true)

	var buf bytes.Buffer
	renderReport(&buf, &traffic.Report{
		Protocol:  traffic.ProtocolDNS,
		Elapsed:   2 * time.Second,
		Sent:      2,
		Succeeded: 1,
		Failed:    1,
		Targets:   []string{"example.com"},
		Stats:     stats,
		Cancelled: true,
	})

	out := buf.String()
	for _, want := range []string{"Traffic - DNS", "Sent", "50.0%", "p50", "Cancelled"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestRenderBatch(t *testing.T) {
	var buf bytes.Buffer
	renderBatch(&buf, &validate.BatchResult{
		ID:     "0123456789",
		Passed: false,
		Targets: []validate.Target{
			{Process: "curl.exe", URL: "https://a.example", Verified: true, Basis: validate.BasisLog},
			{Process: "curl.exe", URL: "https://b.example", Basis: validate.BasisNone, Issuer: "CN=Other CA"},
		},
	})

	out := buf.String()
	for _, want := range []string{"FAILED", "https://a.example", "(log)", "issuer: CN=Other CA"} {
		if !strings.Contains(out, want) {
			t.Errorf("batch missing %q:\n%s", want, out)
		}
	}
}

func TestRenderSummaryAndHistory(t *testing.T) {
	var buf bytes.Buffer
	renderSummary(&buf, &stress.Summary{Iterations: 3, ValidationsPassed: 2, ValidationsFailed: 1, Cancelled: true}, "/tmp/x.log")
	out := buf.String()
	for _, want := range []string{"Iterations", "2 passed", "1 failed", "/tmp/x.log", "Stopped by user"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	renderHistory(&buf,
		[]*store.Run{{ID: 7, Protocol: "udp", Status: store.StatusCompleted, Sent: 12, StartedAt: time.Now()}},
		[]*store.Result{{BatchID: "abcdef0123", Process: "curl.exe", URL: "https://b.example"}},
	)
	out = buf.String()
	for _, want := range []string{"#7", "udp", "abcdef01 ", "https://b.example"} {
		if !strings.Contains(out, want) {
			t.Errorf("history missing %q:\n%s", want, out)
		}
	}
}
