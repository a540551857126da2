// Package platform provides the marketing backend the assistant's tools
// operate on: campaigns, budgets, and scheduled posts. The local
// implementation is an in-memory store seeded with demo data; a hosted
// deployment would back the same interface with the real platform API.
package platform

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a campaign or post does not exist.
var ErrNotFound = errors.New("not found")

// Campaign statuses.
const (
	CampaignActive = "active"
	CampaignPaused = "paused"
	CampaignEnded  = "ended"
)

// Post statuses.
const (
	PostDraft     = "draft"
	PostScheduled = "scheduled"
	PostPublished = "published"
)

// Campaign is a marketing campaign with its budget and running metrics.
type Campaign struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Channel     string    `json:"channel"`
	Status      string    `json:"status"`
	Budget      float64   `json:"budget"`
	Spent       float64   `json:"spent"`
	Impressions int       `json:"impressions"`
	Clicks      int       `json:"clicks"`
	Conversions int       `json:"conversions"`
	StartedAt   time.Time `json:"started_at"`
}

// Remaining returns the unspent budget.
func (c *Campaign) Remaining() float64 {
	return c.Budget - c.Spent
}

// Post is a social post, either drafted or scheduled for publication.
type Post struct {
	ID          string    `json:"id"`
	CampaignID  string    `json:"campaign_id"`
	Channel     string    `json:"channel"`
	Body        string    `json:"body"`
	Status      string    `json:"status"`
	ScheduledAt time.Time `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Local is an in-memory marketing backend. Safe for concurrent use.
type Local struct {
	mu        sync.RWMutex
	campaigns map[string]*Campaign
	posts     map[string]*Post
}

// NewLocal creates a backend seeded with demo campaigns so the assistant
// has something to talk about out of the box.
func NewLocal() *Local {
	l := &Local{
		campaigns: make(map[string]*Campaign),
		posts:     make(map[string]*Post),
	}
	l.seed()
	return l
}

func (l *Local) seed() {
	now := time.Now().UTC()
	campaigns := []*Campaign{
		{
			ID: "cmp-spring-sale", Name: "Spring Sale", Channel: "instagram",
			Status: CampaignActive, Budget: 5000, Spent: 3240.50,
			Impressions: 182_000, Clicks: 4_370, Conversions: 213,
			StartedAt: now.AddDate(0, -1, 0),
		},
		{
			ID: "cmp-newsletter", Name: "Newsletter Growth", Channel: "email",
			Status: CampaignActive, Budget: 1200, Spent: 480,
			Impressions: 25_000, Clicks: 2_100, Conversions: 640,
			StartedAt: now.AddDate(0, -2, 0),
		},
		{
			ID: "cmp-launch", Name: "Product Launch Teaser", Channel: "tiktok",
			Status: CampaignPaused, Budget: 8000, Spent: 7920,
			Impressions: 510_000, Clicks: 12_800, Conversions: 95,
			StartedAt: now.AddDate(0, -3, 0),
		},
	}
	for _, c := range campaigns {
		l.campaigns[c.ID] = c
	}

	posts := []*Post{
		{
			ID: "post-001", CampaignID: "cmp-spring-sale", Channel: "instagram",
			Body: "Last week of our Spring Sale — 25% off everything.", Status: PostScheduled,
			ScheduledAt: now.Add(26 * time.Hour), CreatedAt: now.Add(-48 * time.Hour),
		},
		{
			ID: "post-002", CampaignID: "cmp-newsletter", Channel: "email",
			Body: "April roundup: what's new and what's next.", Status: PostScheduled,
			ScheduledAt: now.Add(72 * time.Hour), CreatedAt: now.Add(-24 * time.Hour),
		},
	}
	for _, p := range posts {
		l.posts[p.ID] = p
	}
}

// Campaign returns a copy of the named campaign.
func (l *Local) Campaign(id string) (*Campaign, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	c, ok := l.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	copy := *c
	return &copy, nil
}

// Campaigns returns copies of all campaigns.
func (l *Local) Campaigns() []*Campaign {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Campaign, 0, len(l.campaigns))
	for _, c := range l.campaigns {
		copy := *c
		out = append(out, &copy)
	}
	return out
}

// ScheduledPosts returns posts for a campaign, or all posts when
// campaignID is empty.
func (l *Local) ScheduledPosts(campaignID string) []*Post {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*Post
	for _, p := range l.posts {
		if campaignID != "" && p.CampaignID != campaignID {
			continue
		}
		copy := *p
		out = append(out, &copy)
	}
	return out
}

// CreatePost drafts a new post under a campaign.
func (l *Local) CreatePost(campaignID, channel, body string) (*Post, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.campaigns[campaignID]; !ok {
		return nil, fmt.Errorf("campaign %s: %w", campaignID, ErrNotFound)
	}

	p := &Post{
		ID:         "post-" + uuid.New().String()[:8],
		CampaignID: campaignID,
		Channel:    channel,
		Body:       body,
		Status:     PostDraft,
		CreatedAt:  time.Now().UTC(),
	}
	l.posts[p.ID] = p
	copy := *p
	return &copy, nil
}

// SchedulePost sets a post's publication time.
func (l *Local) SchedulePost(postID string, at time.Time) (*Post, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.posts[postID]
	if !ok {
		return nil, fmt.Errorf("post %s: %w", postID, ErrNotFound)
	}
	if p.Status == PostPublished {
		return nil, fmt.Errorf("post %s is already published", postID)
	}
	p.Status = PostScheduled
	p.ScheduledAt = at
	copy := *p
	return &copy, nil
}

// UpdateBudget sets a campaign's total budget.
func (l *Local) UpdateBudget(campaignID string, budget float64) (*Campaign, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.campaigns[campaignID]
	if !ok {
		return nil, fmt.Errorf("campaign %s: %w", campaignID, ErrNotFound)
	}
	if budget < c.Spent {
		return nil, fmt.Errorf("budget %.2f is below amount already spent (%.2f)", budget, c.Spent)
	}
	c.Budget = budget
	copy := *c
	return &copy, nil
}
