package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Listen.Port != 8080 {
		t.Errorf("port %d, want 8080", cfg.Listen.Port)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("backend %q, want sqlite", cfg.Storage.Backend)
	}
	if cfg.Context.MaxContextMessages != 20 {
		t.Errorf("max context %d, want 20", cfg.Context.MaxContextMessages)
	}
	if cfg.Context.SummaryTriggerMessages != 30 {
		t.Errorf("summary trigger %d, want 30", cfg.Context.SummaryTriggerMessages)
	}
	if cfg.Context.SummaryCutoffMessages != 10 {
		t.Errorf("summary cutoff %d, want 10", cfg.Context.SummaryCutoffMessages)
	}
	if cfg.Context.MaxSummaryPoints != 8 {
		t.Errorf("summary points %d, want 8", cfg.Context.MaxSummaryPoints)
	}
	if cfg.Loop.MaxRecursion != 5 {
		t.Errorf("max recursion %d, want 5", cfg.Loop.MaxRecursion)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
listen:
  port: 9000
model:
  name: llama3.2
context:
  max_context_messages: 12
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Listen.Port != 9000 {
		t.Errorf("port %d, want 9000", cfg.Listen.Port)
	}
	if cfg.Model.Name != "llama3.2" {
		t.Errorf("model %q, want llama3.2", cfg.Model.Name)
	}
	if cfg.Context.MaxContextMessages != 12 {
		t.Errorf("max context %d, want 12", cfg.Context.MaxContextMessages)
	}
	// Unset values fall back to defaults.
	if cfg.Context.SummaryTriggerMessages != 30 {
		t.Errorf("summary trigger %d, want default 30", cfg.Context.SummaryTriggerMessages)
	}
	if cfg.Loop.MaxRecursion != 5 {
		t.Errorf("max recursion %d, want default 5", cfg.Loop.MaxRecursion)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_API_KEY", "secret123")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
model:
  api_key: ${TEST_API_KEY}
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Model.APIKey != "secret123" {
		t.Errorf("api key %q, want expanded env value", cfg.Model.APIKey)
	}
}

func TestFindConfigExplicitMissing(t *testing.T) {
	if _, err := FindConfig("/does/not/exist.yaml"); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"debug", false},
		{"info", false},
		{"warn", false},
		{"error", false},
		{"trace", false},
		{"bogus", true},
	}
	for _, tt := range tests {
		_, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}
