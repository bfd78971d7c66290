package logging

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestSessionFileName(t *testing.T) {
	ts := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	got := SessionFileName(ts)
	want := "stress_test_2025-03-04_05-06-07.log"
	if got != want {
		t.Errorf("SessionFileName() = %q, want %q", got, want)
	}
}

func TestInit_WritesSessionFile(t *testing.T) {
	dir := t.TempDir()

	logger, path, closer, err := Init(Options{Dir: dir, Level: "debug"})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	Component(logger, "validate").WithField("url", "https://a.example").Info("verified")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "verified") {
		t.Errorf("Expected message in log file, got: %s", content)
	}
	if !strings.Contains(content, "component=validate") {
		t.Errorf("Expected component field in log file, got: %s", content)
	}
}

func TestInit_InvalidLevel(t *testing.T) {
	if _, _, _, err := Init(Options{Level: "loud"}); err == nil {
		t.Error("Expected error for invalid level")
	}
}
