// Package steering reads the agent's traffic steering configuration to decide
// whether web traffic is expected to flow through the agent at all.
package steering

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jmespath/go-jmespath"
	"github.com/tidwall/jsonc"
)

// DefaultModeQuery finds the steering mode in the layouts the agent has used
const DefaultModeQuery = "steering_config.traffic_mode || steeringConfig.trafficMode || traffic_mode || trafficMode || mode"

// Steering modes
const (
	ModeAll  = "all"
	ModeWeb  = "web"
	ModeNone = "none"
)

// Config is a parsed steering document
type Config struct {
	doc   interface{}
	query string
}

// Load reads a steering file. An empty query uses DefaultModeQuery.
func Load(file, query string) (*Config, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read steering config: %w", err)
	}
	return Parse(data, query)
}

// Parse decodes steering content, comments allowed
func Parse(data []byte, query string) (*Config, error) {
	var doc interface{}
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse steering config: %w", err)
	}
	if query == "" {
		query = DefaultModeQuery
	}
	if _, err := jmespath.Compile(query); err != nil {
		return nil, fmt.Errorf("invalid steering mode query %q: %w", query, err)
	}
	return &Config{doc: doc, query: query}, nil
}

// Mode returns the lower-cased steering mode, or ModeNone when absent
func (c *Config) Mode() string {
	if c == nil {
		return ModeNone
	}
	result, err := jmespath.Search(c.query, c.doc)
	if err != nil {
		return ModeNone
	}
	s, ok := result.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return ModeNone
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// ShouldValidate reports whether the mode steers web traffic through the agent
func (c *Config) ShouldValidate() bool {
	switch c.Mode() {
	case ModeAll, ModeWeb:
		return true
	}
	return false
}

// Get returns any value in the document selected by a JMESPath expression
func (c *Config) Get(expr string) (interface{}, error) {
	if c == nil {
		return nil, fmt.Errorf("no steering config loaded")
	}
	return jmespath.Search(expr, c.doc)
}
