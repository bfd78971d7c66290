package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// FilePermissions is the default permission mode for regular files (read/write for owner, read for others)
	FilePermissions = 0644
	// DirPermissions is the default permission mode for directories (rwxr-xr-x)
	DirPermissions = 0755
)

var (
	// ConfigDir is the global state directory (~/.agentstress)
	ConfigDir string

	// LogsDir holds the per-session harness log files
	LogsDir string

	// DatabasePath is the SQLite database file for traffic runs and validation batches
	DatabasePath string
)

// Initialize sets up the state directories.
// It creates ~/.agentstress/ and its logs/ directory if they don't exist.
func Initialize() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	return InitializeAt(filepath.Join(homeDir, ".agentstress"))
}

// InitializeAt is Initialize rooted at an explicit directory
func InitializeAt(dir string) error {
	ConfigDir = dir
	LogsDir = filepath.Join(ConfigDir, "logs")
	DatabasePath = filepath.Join(ConfigDir, "agentstress.db")

	for _, d := range []string{ConfigDir, LogsDir} {
		if err := os.MkdirAll(d, DirPermissions); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return nil
}

// ExpandPath resolves a leading ~/ to the home directory and environment
// variables such as %ProgramData% or $HOME
func ExpandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	p = os.Expand(expandPercent(p), os.Getenv)

	if strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		p = filepath.Join(homeDir, p[2:])
	}
	return filepath.Clean(p), nil
}

// expandPercent rewrites Windows %VAR% references to ${VAR}
func expandPercent(p string) string {
	var b strings.Builder
	for {
		start := strings.IndexByte(p, '%')
		if start < 0 {
			break
		}
		end := strings.IndexByte(p[start+1:], '%')
		if end <= 0 {
			break
		}
		b.WriteString(p[:start])
		b.WriteString("${" + p[start+1:start+1+end] + "}")
		p = p[start+end+2:]
	}
	b.WriteString(p)
	return b.String()
}
