package steering

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMode(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		query    string
		wantMode string
		validate bool
	}{
		{"snake case", `{"steering_config": {"traffic_mode": "All"}}`, "", ModeAll, true},
		{"camel case", `{"steeringConfig": {"trafficMode": "web"}}`, "", ModeWeb, true},
		{"flat", `{"mode": "cloud_apps"}`, "", "cloud_apps", false},
		{"absent", `{"other": true}`, "", ModeNone, false},
		{"not a string", `{"mode": 3}`, "", ModeNone, false},
		{"custom query", `{"tenant": {"profiles": [{"steer": "WEB"}]}}`, "tenant.profiles[0].steer", ModeWeb, true},
		{"comments", "{\n// exported\n\"mode\": \"all\"\n}", "", ModeAll, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Parse([]byte(tt.data), tt.query)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if got := c.Mode(); got != tt.wantMode {
				t.Errorf("Mode() = %q, want %q", got, tt.wantMode)
			}
			if got := c.ShouldValidate(); got != tt.validate {
				t.Errorf("ShouldValidate() = %v, want %v", got, tt.validate)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	if _, err := Parse([]byte(`{`), ""); err == nil {
		t.Error("Expected error for malformed JSON")
	}
	if _, err := Parse([]byte(`{}`), "a.["); err == nil {
		t.Error("Expected error for invalid query")
	}
}

func TestLoad(t *testing.T) {
	file := filepath.Join(t.TempDir(), "steering.json")
	if err := os.WriteFile(file, []byte(`{"mode": "web", "exceptions": ["a", "b"]}`), 0644); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	c, err := Load(file, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !c.ShouldValidate() {
		t.Error("Expected web mode to validate")
	}

	v, err := c.Get("length(exceptions)")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v.(float64) != 2 {
		t.Errorf("Get() = %v, want 2", v)
	}

	var nilCfg *Config
	if nilCfg.ShouldValidate() {
		t.Error("Nil config must not validate")
	}
}
