package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/brightpost/assistant/internal/platform"
)

func marketingRegistry() *Registry {
	r := NewRegistry()
	RegisterMarketing(r, platform.NewLocal())
	return r
}

func TestClassify(t *testing.T) {
	r := marketingRegistry()

	tests := []struct {
		name string
		want Capability
	}{
		{"get_campaign_analytics", ReadOnly},
		{"list_scheduled_posts", ReadOnly},
		{"get_budget_status", ReadOnly},
		{"create_post", Mutating},
		{"schedule_post", Mutating},
		{"update_campaign_budget", Mutating},
	}
	for _, tt := range tests {
		got, err := r.Classify(tt.name)
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: classified %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestClassifyUnknownTool(t *testing.T) {
	r := marketingRegistry()

	_, err := r.Classify("delete_everything")
	var unknown *ErrUnknownTool
	if !errors.As(err, &unknown) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
	if unknown.Name != "delete_everything" {
		t.Errorf("wrong tool name in error: %q", unknown.Name)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := marketingRegistry()

	_, err := r.Execute(context.Background(), "nope", nil)
	var unknown *ErrUnknownTool
	if !errors.As(err, &unknown) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestExecuteReadOnly(t *testing.T) {
	r := marketingRegistry()

	result, err := r.Execute(context.Background(), "get_budget_status",
		map[string]any{"campaign_id": "cmp-spring-sale"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(result, "remaining") {
		t.Errorf("result missing remaining balance: %s", result)
	}
}

func TestExecuteWrapsHandlerError(t *testing.T) {
	r := marketingRegistry()

	_, err := r.Execute(context.Background(), "get_budget_status",
		map[string]any{"campaign_id": "cmp-missing"})
	var failed *ErrToolFailed
	if !errors.As(err, &failed) {
		t.Fatalf("expected ErrToolFailed, got %v", err)
	}
	if !errors.Is(err, platform.ErrNotFound) {
		t.Errorf("expected wrapped ErrNotFound, got %v", err)
	}
}

func TestSchemas(t *testing.T) {
	r := marketingRegistry()

	schemas := r.Schemas()
	if len(schemas) != 6 {
		t.Fatalf("expected 6 schemas, got %d", len(schemas))
	}
	fn, ok := schemas[0]["function"].(map[string]any)
	if !ok {
		t.Fatal("schema missing function object")
	}
	if fn["name"] != "get_campaign_analytics" {
		t.Errorf("registration order not preserved: first schema is %v", fn["name"])
	}
}

func TestDisplay(t *testing.T) {
	r := marketingRegistry()

	got := r.Display("update_campaign_budget", map[string]any{
		"campaign_id": "cmp-spring-sale",
		"budget":      float64(7500),
	})
	if got != "Set budget of campaign cmp-spring-sale to 7500.00" {
		t.Errorf("wrong display: %q", got)
	}

	// Unknown tools fall back to the raw name.
	if r.Display("mystery", nil) != "mystery" {
		t.Error("unknown tool display should be the raw name")
	}
}

func TestDisplayFallback(t *testing.T) {
	r := NewRegistry()
	r.Register(&Tool{Name: "demo", Mutating: true})

	got := r.Display("demo", map[string]any{"b": 1, "a": "x"})
	if got != "demo (a=x, b=1)" {
		t.Errorf("wrong fallback display: %q", got)
	}
}
