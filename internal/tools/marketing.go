package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/brightpost/assistant/internal/platform"
)

// RegisterMarketing wires the marketing tool set against the given
// backend. Analytics, post listing, and budget lookups are read-only;
// anything that changes campaign state is mutating and goes through
// approval.
func RegisterMarketing(r *Registry, backend *platform.Local) {
	r.Register(&Tool{
		Name:        "get_campaign_analytics",
		Description: "Get impressions, clicks, conversions, and spend for a campaign. Omit campaign_id to list all campaigns.",
		Parameters: objectSchema(map[string]any{
			"campaign_id": map[string]any{"type": "string", "description": "Campaign ID, e.g. cmp-spring-sale"},
		}, nil),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			id := stringArg(args, "campaign_id")
			if id == "" {
				return asJSON(backend.Campaigns())
			}
			c, err := backend.Campaign(id)
			if err != nil {
				return "", err
			}
			return asJSON(c)
		},
	})

	r.Register(&Tool{
		Name:        "list_scheduled_posts",
		Description: "List drafted and scheduled posts, optionally filtered to one campaign.",
		Parameters: objectSchema(map[string]any{
			"campaign_id": map[string]any{"type": "string", "description": "Campaign ID to filter by"},
		}, nil),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			posts := backend.ScheduledPosts(stringArg(args, "campaign_id"))
			if len(posts) == 0 {
				return "No posts found.", nil
			}
			return asJSON(posts)
		},
	})

	r.Register(&Tool{
		Name:        "get_budget_status",
		Description: "Get the budget, amount spent, and remaining balance for a campaign.",
		Parameters: objectSchema(map[string]any{
			"campaign_id": map[string]any{"type": "string", "description": "Campaign ID"},
		}, []string{"campaign_id"}),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			c, err := backend.Campaign(stringArg(args, "campaign_id"))
			if err != nil {
				return "", err
			}
			return asJSON(map[string]any{
				"campaign_id": c.ID,
				"budget":      c.Budget,
				"spent":       c.Spent,
				"remaining":   c.Remaining(),
				"status":      c.Status,
			})
		},
	})

	r.Register(&Tool{
		Name:        "create_post",
		Description: "Draft a new post under a campaign. The post is not published until scheduled.",
		Parameters: objectSchema(map[string]any{
			"campaign_id": map[string]any{"type": "string", "description": "Campaign the post belongs to"},
			"channel":     map[string]any{"type": "string", "description": "Channel, e.g. instagram, email, tiktok"},
			"body":        map[string]any{"type": "string", "description": "Post text"},
		}, []string{"campaign_id", "body"}),
		Mutating: true,
		Describe: func(args map[string]any) string {
			return fmt.Sprintf("Create a post on %s for campaign %s",
				stringArg(args, "channel"), stringArg(args, "campaign_id"))
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			p, err := backend.CreatePost(
				stringArg(args, "campaign_id"),
				stringArg(args, "channel"),
				stringArg(args, "body"))
			if err != nil {
				return "", err
			}
			return asJSON(p)
		},
	})

	r.Register(&Tool{
		Name:        "schedule_post",
		Description: "Schedule a drafted post for publication at a given time (RFC 3339).",
		Parameters: objectSchema(map[string]any{
			"post_id": map[string]any{"type": "string", "description": "Post ID"},
			"at":      map[string]any{"type": "string", "description": "Publication time, RFC 3339"},
		}, []string{"post_id", "at"}),
		Mutating: true,
		Describe: func(args map[string]any) string {
			return fmt.Sprintf("Schedule post %s for %s",
				stringArg(args, "post_id"), stringArg(args, "at"))
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			at, err := time.Parse(time.RFC3339, stringArg(args, "at"))
			if err != nil {
				return "", fmt.Errorf("invalid time %q: %w", stringArg(args, "at"), err)
			}
			p, err := backend.SchedulePost(stringArg(args, "post_id"), at)
			if err != nil {
				return "", err
			}
			return asJSON(p)
		},
	})

	r.Register(&Tool{
		Name:        "update_campaign_budget",
		Description: "Change a campaign's total budget. Cannot go below the amount already spent.",
		Parameters: objectSchema(map[string]any{
			"campaign_id": map[string]any{"type": "string", "description": "Campaign ID"},
			"budget":      map[string]any{"type": "number", "description": "New total budget"},
		}, []string{"campaign_id", "budget"}),
		Mutating: true,
		Describe: func(args map[string]any) string {
			return fmt.Sprintf("Set budget of campaign %s to %.2f",
				stringArg(args, "campaign_id"), floatArg(args, "budget"))
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			c, err := backend.UpdateBudget(stringArg(args, "campaign_id"), floatArg(args, "budget"))
			if err != nil {
				return "", err
			}
			return asJSON(c)
		},
	})
}

func objectSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func floatArg(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

func asJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(data), nil
}
