// Package exception loads the agent's exception (bypass) domain list and
// matches URLs against it.
package exception

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/studiowebux/agentstress/internal/certprobe"
	"github.com/tidwall/jsonc"
)

// DefaultPath returns the agent exception list location under ProgramData
func DefaultPath() string {
	root := os.Getenv("ProgramData")
	if root == "" {
		root = `C:\ProgramData`
	}
	return filepath.Join(root, "netskope", "stagent", "data", "nsexception.json")
}

// List is a set of host patterns
type List struct {
	patterns []string
}

type rule struct {
	Names []string `json:"names"`
}

// Load reads an exception file. Both a single {"names": [...]} object and an
// array of such rules are accepted; comments are allowed.
func Load(file string) (*List, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read exception list: %w", err)
	}
	return Parse(data)
}

// Parse decodes exception list content
func Parse(data []byte) (*List, error) {
	clean := jsonc.ToJSON(data)
	trimmed := strings.TrimSpace(string(clean))

	var rules []rule
	switch {
	case strings.HasPrefix(trimmed, "["):
		if err := json.Unmarshal(clean, &rules); err != nil {
			return nil, fmt.Errorf("failed to parse exception rules: %w", err)
		}
	case strings.HasPrefix(trimmed, "{"):
		var r rule
		if err := json.Unmarshal(clean, &r); err != nil {
			return nil, fmt.Errorf("failed to parse exception list: %w", err)
		}
		rules = append(rules, r)
	default:
		return nil, fmt.Errorf("unexpected exception list format")
	}

	return New(flatten(rules)...), nil
}

// New builds a List from patterns
func New(patterns ...string) *List {
	l := &List{}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			l.patterns = append(l.patterns, p)
		}
	}
	return l
}

// Len returns the number of patterns
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.patterns)
}

// Match reports whether the URL's host is covered by any pattern.
//
// Patterns are shell globs. "*.example.com" also covers "example.com", and a
// pattern without wildcards also covers its subdomains.
func (l *List) Match(rawURL string) bool {
	if l == nil {
		return false
	}
	host := certprobe.Hostname(rawURL)
	if host == "" {
		return false
	}

	for _, p := range l.patterns {
		if ok, err := path.Match(p, host); err == nil && ok {
			return true
		}
		if strings.HasPrefix(p, "*.") && host == p[2:] {
			return true
		}
		if !strings.Contains(p, "*") && strings.HasSuffix(host, "."+p) {
			return true
		}
	}
	return false
}

func flatten(rules []rule) []string {
	var out []string
	for _, r := range rules {
		out = append(out, r.Names...)
	}
	return out
}
