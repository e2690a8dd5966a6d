package tools

import (
	"context"
	"fmt"
	"time"
)

// AdsClient is the collaborator interface for the advertising platform.
// Implementations live outside the core; expected business failures are
// returned as (*Result-compatible) data, not Go errors.
type AdsClient interface {
	SpendReport(ctx context.Context, accountID, period string) (map[string]any, error)
	ListCampaigns(ctx context.Context, accountID string) ([]map[string]any, error)
	AccountFacts(ctx context.Context, accountID string) (map[string]any, error)
	PauseCampaign(ctx context.Context, accountID, campaignID string) (map[string]any, error)
	UpdateBudget(ctx context.Context, accountID, campaignID string, dailyBudget float64) (map[string]any, error)
}

// --- ads_spend_report ---

// SpendReportTool reports advertising spend for a period.
type SpendReportTool struct {
	client AdsClient
}

func NewSpendReportTool(client AdsClient) *SpendReportTool {
	return &SpendReportTool{client: client}
}

func (t *SpendReportTool) Name() string { return "ads_spend_report" }

func (t *SpendReportTool) Description() string {
	return "Get advertising spend and performance metrics for an account over a period."
}

func (t *SpendReportTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"account_id": map[string]any{"type": "string", "description": "Ad account ID"},
			"period":     map[string]any{"type": "string", "description": "Reporting period, e.g. last_7d, last_30d, yesterday"},
		},
		"required": []any{"account_id", "period"},
	}
}

func (t *SpendReportTool) Meta() Meta {
	return domainMeta("ads", t.Name(), 20*time.Second, true)
}

func (t *SpendReportTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	accountID := GetString(params, "account_id", "")
	period := GetString(params, "period", "last_7d")

	data, err := t.client.SpendReport(ctx, accountID, period)
	if err != nil {
		return nil, fmt.Errorf("spend report: %w", err)
	}
	return &Result{
		Success: true,
		Message: fmt.Sprintf("Spend report for %s (%s)", accountID, period),
		Data:    data,
	}, nil
}

// --- ads_list_campaigns ---

// ListCampaignsTool lists campaigns for an account.
type ListCampaignsTool struct {
	client AdsClient
}

func NewListCampaignsTool(client AdsClient) *ListCampaignsTool {
	return &ListCampaignsTool{client: client}
}

func (t *ListCampaignsTool) Name() string { return "ads_list_campaigns" }

func (t *ListCampaignsTool) Description() string {
	return "List campaigns in an ad account with status and daily budget."
}

func (t *ListCampaignsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"account_id": map[string]any{"type": "string", "description": "Ad account ID"},
		},
		"required": []any{"account_id"},
	}
}

func (t *ListCampaignsTool) Meta() Meta {
	return domainMeta("ads", t.Name(), 20*time.Second, true)
}

func (t *ListCampaignsTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	accountID := GetString(params, "account_id", "")

	campaigns, err := t.client.ListCampaigns(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	return &Result{
		Success: true,
		Message: fmt.Sprintf("%d campaigns", len(campaigns)),
		Data:    map[string]any{"campaigns": campaigns},
	}, nil
}

// --- ads_account_snapshot ---

// AccountSnapshotTool collects account facts and computes a 0-100 health
// score from spend delta, CTR, and budget utilization.
type AccountSnapshotTool struct {
	client AdsClient
}

func NewAccountSnapshotTool(client AdsClient) *AccountSnapshotTool {
	return &AccountSnapshotTool{client: client}
}

func (t *AccountSnapshotTool) Name() string { return "ads_account_snapshot" }

func (t *AccountSnapshotTool) Description() string {
	return "Get a health snapshot of an ad account: spend trend, CTR, budget utilization, and an overall health score."
}

func (t *AccountSnapshotTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"account_id": map[string]any{"type": "string", "description": "Ad account ID"},
		},
		"required": []any{"account_id"},
	}
}

func (t *AccountSnapshotTool) Meta() Meta {
	return domainMeta("ads", t.Name(), 30*time.Second, true)
}

func (t *AccountSnapshotTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	accountID := GetString(params, "account_id", "")

	facts, err := t.client.AccountFacts(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("account facts: %w", err)
	}

	score := HealthScore(facts)
	facts["health_score"] = score

	return &Result{
		Success: true,
		Message: fmt.Sprintf("Account %s health score: %.0f", accountID, score),
		Data:    facts,
	}, nil
}

// HealthScore computes a 0-100 account health score from raw facts.
// Expected keys: spend_delta_pct (period over period), ctr (0..1),
// budget_utilization (0..1). Missing facts score neutrally.
func HealthScore(facts map[string]any) float64 {
	score := 100.0

	if delta, ok := facts["spend_delta_pct"].(float64); ok {
		// Penalize sharp spend swings in either direction.
		if delta > 50 || delta < -50 {
			score -= 30
		} else if delta > 25 || delta < -25 {
			score -= 15
		}
	}
	if ctr, ok := facts["ctr"].(float64); ok {
		if ctr < 0.005 {
			score -= 30
		} else if ctr < 0.01 {
			score -= 15
		}
	}
	if util, ok := facts["budget_utilization"].(float64); ok {
		if util > 0.95 {
			score -= 20
		} else if util < 0.2 {
			score -= 10
		}
	}

	if score < 0 {
		score = 0
	}
	return score
}

// --- ads_pause_campaign ---

// PauseCampaignTool pauses a running campaign. Dangerous: irreversible in
// effect on delivery until explicitly resumed.
type PauseCampaignTool struct {
	client AdsClient
}

func NewPauseCampaignTool(client AdsClient) *PauseCampaignTool {
	return &PauseCampaignTool{client: client}
}

func (t *PauseCampaignTool) Name() string { return "ads_pause_campaign" }

func (t *PauseCampaignTool) Description() string {
	return "Pause a running ad campaign. Requires approval."
}

func (t *PauseCampaignTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"account_id":  map[string]any{"type": "string", "description": "Ad account ID"},
			"campaign_id": map[string]any{"type": "string", "description": "Campaign to pause"},
		},
		"required": []any{"account_id", "campaign_id"},
	}
}

func (t *PauseCampaignTool) Meta() Meta {
	return domainMeta("ads", t.Name(), 20*time.Second, false)
}

func (t *PauseCampaignTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	accountID := GetString(params, "account_id", "")
	campaignID := GetString(params, "campaign_id", "")

	data, err := t.client.PauseCampaign(ctx, accountID, campaignID)
	if err != nil {
		return nil, fmt.Errorf("pause campaign: %w", err)
	}
	return &Result{
		Success: true,
		Message: fmt.Sprintf("Campaign %s paused", campaignID),
		Data:    data,
	}, nil
}

// --- ads_update_budget ---

// UpdateBudgetTool changes a campaign's daily budget. Dangerous: moves money.
type UpdateBudgetTool struct {
	client AdsClient
}

func NewUpdateBudgetTool(client AdsClient) *UpdateBudgetTool {
	return &UpdateBudgetTool{client: client}
}

func (t *UpdateBudgetTool) Name() string { return "ads_update_budget" }

func (t *UpdateBudgetTool) Description() string {
	return "Set a campaign's daily budget to a new amount. Requires approval."
}

func (t *UpdateBudgetTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"account_id":   map[string]any{"type": "string", "description": "Ad account ID"},
			"campaign_id":  map[string]any{"type": "string", "description": "Campaign to update"},
			"daily_budget": map[string]any{"type": "number", "description": "New daily budget in account currency"},
		},
		"required": []any{"account_id", "campaign_id", "daily_budget"},
	}
}

func (t *UpdateBudgetTool) Meta() Meta {
	return domainMeta("ads", t.Name(), 20*time.Second, false)
}

func (t *UpdateBudgetTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	accountID := GetString(params, "account_id", "")
	campaignID := GetString(params, "campaign_id", "")
	budget := GetFloat(params, "daily_budget", 0)

	if budget <= 0 {
		return &Result{
			Success:   false,
			Error:     "daily_budget must be positive",
			ErrorCode: "invalid_budget",
		}, nil
	}

	data, err := t.client.UpdateBudget(ctx, accountID, campaignID, budget)
	if err != nil {
		return nil, fmt.Errorf("update budget: %w", err)
	}
	return &Result{
		Success: true,
		Message: fmt.Sprintf("Budget for %s set to %.2f", campaignID, budget),
		Data:    data,
	}, nil
}
