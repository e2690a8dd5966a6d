package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// DemoAdsClient is an in-memory ads backend for local runs and tests.
type DemoAdsClient struct {
	mu        sync.Mutex
	Campaigns map[string]*DemoCampaign
}

// DemoCampaign is one campaign in the demo backend.
type DemoCampaign struct {
	ID          string
	Name        string
	Status      string
	DailyBudget float64
}

// NewDemoAdsClient seeds a demo ads account with two campaigns.
func NewDemoAdsClient() *DemoAdsClient {
	return &DemoAdsClient{
		Campaigns: map[string]*DemoCampaign{
			"c-1001": {ID: "c-1001", Name: "Summer Sale", Status: "active", DailyBudget: 50},
			"c-1002": {ID: "c-1002", Name: "Brand Awareness", Status: "active", DailyBudget: 20},
		},
	}
}

func (c *DemoAdsClient) SpendReport(ctx context.Context, accountID, period string) (map[string]any, error) {
	return map[string]any{
		"account_id":  accountID,
		"period":      period,
		"spend":       412.37,
		"impressions": 91842,
		"clicks":      1103,
		"ctr":         0.012,
	}, nil
}

func (c *DemoAdsClient) ListCampaigns(ctx context.Context, accountID string) ([]map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]map[string]any, 0, len(c.Campaigns))
	for _, cam := range c.Campaigns {
		out = append(out, map[string]any{
			"campaign_id":  cam.ID,
			"name":         cam.Name,
			"status":       cam.Status,
			"daily_budget": cam.DailyBudget,
		})
	}
	return out, nil
}

func (c *DemoAdsClient) AccountFacts(ctx context.Context, accountID string) (map[string]any, error) {
	return map[string]any{
		"account_id":         accountID,
		"spend_delta_pct":    12.5,
		"ctr":                0.012,
		"budget_utilization": 0.74,
	}, nil
}

func (c *DemoAdsClient) PauseCampaign(ctx context.Context, accountID, campaignID string) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cam, ok := c.Campaigns[campaignID]
	if !ok {
		return nil, fmt.Errorf("campaign %s not found", campaignID)
	}
	cam.Status = "paused"
	return map[string]any{"campaign_id": cam.ID, "campaign_name": cam.Name, "status": cam.Status}, nil
}

func (c *DemoAdsClient) UpdateBudget(ctx context.Context, accountID, campaignID string, dailyBudget float64) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cam, ok := c.Campaigns[campaignID]
	if !ok {
		return nil, fmt.Errorf("campaign %s not found", campaignID)
	}
	cam.DailyBudget = dailyBudget
	return map[string]any{"campaign_id": cam.ID, "campaign_name": cam.Name, "daily_budget": cam.DailyBudget}, nil
}

// DemoCRMClient is an in-memory CRM backend.
type DemoCRMClient struct {
	mu       sync.Mutex
	Contacts []map[string]any
	Notes    map[string][]string
}

func NewDemoCRMClient() *DemoCRMClient {
	return &DemoCRMClient{
		Contacts: []map[string]any{
			{"contact_id": "p-1", "name": "Dana Reyes", "company": "Acme Corp", "email": "dana@acme.example"},
			{"contact_id": "p-2", "name": "Sam Osei", "company": "Blue Sky Ltd", "email": "sam@bluesky.example"},
		},
		Notes: make(map[string][]string),
	}
}

func (c *DemoCRMClient) LookupContact(ctx context.Context, query string) ([]map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []map[string]any
	for _, contact := range c.Contacts {
		for _, v := range contact {
			if s, ok := v.(string); ok && containsFold(s, query) {
				out = append(out, contact)
				break
			}
		}
	}
	return out, nil
}

func (c *DemoCRMClient) CreateNote(ctx context.Context, contactID, body string) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Notes[contactID] = append(c.Notes[contactID], body)
	return map[string]any{"contact_id": contactID, "note_count": len(c.Notes[contactID])}, nil
}

// DemoMessagingClient is an in-memory messaging backend.
type DemoMessagingClient struct {
	mu   sync.Mutex
	Sent []string
}

func NewDemoMessagingClient() *DemoMessagingClient {
	return &DemoMessagingClient{}
}

func (c *DemoMessagingClient) Send(ctx context.Context, recipient, body string) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Sent = append(c.Sent, recipient)
	return map[string]any{"recipient": recipient, "delivered": true}, nil
}

func (c *DemoMessagingClient) Broadcast(ctx context.Context, segment, body string) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Sent = append(c.Sent, "segment:"+segment)
	return map[string]any{"segment": segment, "queued": true}, nil
}

// RegisterDomainTools registers every domain tool against the given clients.
func RegisterDomainTools(r *Registry, ads AdsClient, crm CRMClient, msg MessagingClient) {
	r.Register(NewSpendReportTool(ads))
	r.Register(NewListCampaignsTool(ads))
	r.Register(NewAccountSnapshotTool(ads))
	r.Register(NewPauseCampaignTool(ads))
	r.Register(NewUpdateBudgetTool(ads))
	r.Register(NewContactLookupTool(crm))
	r.Register(NewCreateNoteTool(crm))
	r.Register(NewSendMessageTool(msg))
	r.Register(NewBroadcastTool(msg))
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
