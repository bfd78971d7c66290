package traffic

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// useHelperProcess routes execCommand to TestHelperProcess for the test's duration
func useHelperProcess(t *testing.T) {
	t.Helper()
	origExec, origLook := execCommand, lookPath
	execCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
		return cmd
	}
	lookPath = func(file string) (string, error) { return file, nil }
	t.Cleanup(func() {
		execCommand, lookPath = origExec, origLook
	})
}

// TestHelperProcess stands in for curl and ab
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		os.Exit(2)
	}
	name, rest := filepath.Base(args[1]), args[2:]
	target := rest[len(rest)-1]

	switch {
	case strings.Contains(target, "slow"):
		time.Sleep(30 * time.Second)
	case strings.HasPrefix(name, "curl"):
		if strings.Contains(target, "fail") {
			os.Exit(7)
		}
	case strings.HasPrefix(name, "ab"):
		fmt.Println("Concurrency Level:      4")
		fmt.Println("Complete requests:      42")
		fmt.Println("Failed requests:        3")
	}
	os.Exit(0)
}

func TestCurlFlood_RecordsURLs(t *testing.T) {
	useHelperProcess(t)

	urls := []string{"https://a.example/", "https://fail.example/"}
	report, err := NewDispatcher(nil).Run(context.Background(), Job{
		Protocol:    ProtocolHTTPS,
		Targets:     urls,
		Count:       20,
		Concurrency: 4,
		CurlPath:    "curl.exe",
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Sent != 20 {
		t.Errorf("Sent = %d, want 20", report.Sent)
	}
	for _, u := range report.Targets {
		if u != urls[0] && u != urls[1] {
			t.Errorf("Unexpected target %q", u)
		}
	}
	if report.Failed == 0 && containsString(report.Targets, urls[1]) {
		t.Error("Expected non-zero exits to count as failures")
	}
}

func TestCurlFlood_CancelKillsInFlight(t *testing.T) {
	useHelperProcess(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	start := time.Now()
	report, err := NewDispatcher(nil).Run(ctx, Job{
		Protocol:    ProtocolHTTPS,
		Targets:     []string{"https://slow.example/"},
		Duration:    time.Minute,
		Concurrency: 2,
		Timeout:     time.Minute,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Cancellation did not kill the request tool, took %v", elapsed)
	}
	if !report.Cancelled {
		t.Error("Expected cancelled report")
	}
}

func TestABJob_Args(t *testing.T) {
	tests := []struct {
		name string
		job  ABJob
		want []string
	}{
		{
			name: "count",
			job:  ABJob{URL: "https://a/", Requests: 100, Concurrency: 10, KeepAlive: true},
			want: []string{"-n", "100", "-c", "10", "-k", "https://a/"},
		},
		{
			name: "duration uses ceiling",
			job:  ABJob{URL: "https://a/", Requests: 100, Concurrency: 10, Duration: 1500 * time.Millisecond},
			want: []string{"-n", "50000000", "-c", "10", "-t", "2", "https://a/"},
		},
		{
			name: "concurrency capped by requests",
			job:  ABJob{URL: "https://a/", Requests: 1, Concurrency: 10},
			want: []string{"-n", "1", "-c", "1", "https://a/"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.job.Args(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Args() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunAB_ParsesOutput(t *testing.T) {
	useHelperProcess(t)

	res, err := NewDispatcher(nil).RunAB(context.Background(), ABJob{
		Path:        "ab.exe",
		URL:         "https://a.example/",
		Requests:    50,
		Concurrency: 4,
	})
	if err != nil {
		t.Fatalf("RunAB failed: %v", err)
	}
	if res.Skipped {
		t.Fatal("Expected run, got skipped")
	}
	if res.Complete != 42 || res.Failed != 3 {
		t.Errorf("Complete/Failed = %d/%d, want 42/3", res.Complete, res.Failed)
	}
}

func TestRunAB_CancelKills(t *testing.T) {
	useHelperProcess(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	res, err := NewDispatcher(nil).RunAB(ctx, ABJob{URL: "https://slow.example/", Duration: time.Minute})
	if err != nil {
		t.Fatalf("RunAB failed: %v", err)
	}
	if !res.Cancelled {
		t.Error("Expected cancelled result")
	}
	if time.Since(start) > 10*time.Second {
		t.Errorf("Cancellation took %v", time.Since(start))
	}
}

func TestRunAB_MissingTool(t *testing.T) {
	orig := lookPath
	lookPath = func(string) (string, error) { return "", exec.ErrNotFound }
	defer func() { lookPath = orig }()

	res, err := NewDispatcher(nil).RunAB(context.Background(), ABJob{URL: "https://a/", Requests: 1})
	if err != nil {
		t.Fatalf("Missing tool must not be an error: %v", err)
	}
	if !res.Skipped {
		t.Error("Expected skipped result")
	}
}

func TestRunAB_InvalidJob(t *testing.T) {
	d := NewDispatcher(nil)
	if _, err := d.RunAB(context.Background(), ABJob{Requests: 1}); !errors.Is(err, ErrNoTargets) {
		t.Errorf("Expected ErrNoTargets, got %v", err)
	}
	if _, err := d.RunAB(context.Background(), ABJob{URL: "https://a/"}); !errors.Is(err, ErrNoStopCondition) {
		t.Errorf("Expected ErrNoStopCondition, got %v", err)
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
