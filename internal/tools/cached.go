package tools

import (
	"context"
	"time"

	"github.com/adpilot-ai/adpilot/internal/cache"
)

// CachedAdsClient wraps an AdsClient with a read-through account-status
// cache, so repeated snapshot requests inside one conversation reuse the
// last fetch instead of hitting the ad platform again.
type CachedAdsClient struct {
	inner AdsClient
	cache cache.AccountCache
}

func NewCachedAdsClient(inner AdsClient, c cache.AccountCache) *CachedAdsClient {
	return &CachedAdsClient{inner: inner, cache: c}
}

func (c *CachedAdsClient) SpendReport(ctx context.Context, accountID, period string) (map[string]any, error) {
	return c.inner.SpendReport(ctx, accountID, period)
}

func (c *CachedAdsClient) ListCampaigns(ctx context.Context, accountID string) ([]map[string]any, error) {
	return c.inner.ListCampaigns(ctx, accountID)
}

func (c *CachedAdsClient) AccountFacts(ctx context.Context, accountID string) (map[string]any, error) {
	if status, err := c.cache.Get(ctx, accountID); err == nil {
		return status.Facts, nil
	}
	facts, err := c.inner.AccountFacts(ctx, accountID)
	if err != nil {
		return nil, err
	}
	_ = c.cache.Set(ctx, &cache.AccountStatus{
		AccountID:   accountID,
		HealthScore: HealthScore(facts),
		Facts:       facts,
		FetchedAt:   time.Now(),
	})
	return facts, nil
}

func (c *CachedAdsClient) PauseCampaign(ctx context.Context, accountID, campaignID string) (map[string]any, error) {
	return c.inner.PauseCampaign(ctx, accountID, campaignID)
}

func (c *CachedAdsClient) UpdateBudget(ctx context.Context, accountID, campaignID string, dailyBudget float64) (map[string]any, error) {
	return c.inner.UpdateBudget(ctx, accountID, campaignID, dailyBudget)
}
