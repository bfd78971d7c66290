package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitializeAt(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".agentstress")
	if err := InitializeAt(dir); err != nil {
		t.Fatalf("InitializeAt failed: %v", err)
	}
	if DatabasePath != filepath.Join(dir, "agentstress.db") {
		t.Errorf("DatabasePath = %s", DatabasePath)
	}
	if info, err := os.Stat(LogsDir); err != nil || !info.IsDir() {
		t.Errorf("logs directory not created: %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	t.Setenv("AGENTSTRESS_TEST_ROOT", "/opt/agent")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"%AGENTSTRESS_TEST_ROOT%/Logs/nsdebuglog.log", filepath.Clean("/opt/agent/Logs/nsdebuglog.log")},
		{"$AGENTSTRESS_TEST_ROOT/x", filepath.Clean("/opt/agent/x")},
		{"~/data/urls.txt", filepath.Join(home, "data/urls.txt")},
		{"100%", "100%"},
		{"/plain/path", filepath.Clean("/plain/path")},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ExpandPath(tt.in)
			if err != nil {
				t.Fatalf("ExpandPath failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
