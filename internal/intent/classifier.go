package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/adpilot-ai/adpilot/internal/provider"
)

// keywordRule maps message keywords to an intent and its domains.
type keywordRule struct {
	intent   Intent
	domains  []string
	keywords []string
}

// Ordered: more specific rules first. A budget mention beats a generic
// spend mention, so budget_change precedes spend_report.
var keywordRules = []keywordRule{
	{IntentBudgetChange, []string{DomainAds}, []string{"budget", "raise the spend", "increase spend", "lower spend"}},
	{IntentPauseEntity, []string{DomainAds}, []string{"pause", "stop the campaign", "turn off", "deactivate"}},
	{IntentSpendReport, []string{DomainAds}, []string{"spend", "how much did", "cost report", "ad performance", "roas", "ctr"}},
	{IntentCampaignList, []string{DomainAds}, []string{"list campaigns", "which campaigns", "show campaigns", "my campaigns"}},
	{IntentAccountSnapshot, []string{DomainAds}, []string{"snapshot", "overview", "how is my account", "account health"}},
	{IntentCRMNote, []string{DomainCRM}, []string{"add a note", "log a note", "note on the contact"}},
	{IntentCRMLookup, []string{DomainCRM}, []string{"contact", "lead", "customer record", "crm"}},
	{IntentSendMessage, []string{DomainMessaging}, []string{"send a message", "message the", "broadcast", "notify"}},
}

// Classifier maps a user message to an intent, keyword-first with an LLM
// fallback for messages no rule matches.
type Classifier struct {
	provider provider.LLMProvider
	model    string
}

// NewClassifier creates a classifier. Provider may be nil, in which case
// only the keyword stage runs and unmatched messages classify as unknown.
func NewClassifier(prov provider.LLMProvider, model string) *Classifier {
	return &Classifier{provider: prov, model: model}
}

// Classify determines the intent of a message.
func (c *Classifier) Classify(ctx context.Context, message string, biz BusinessContext) Classification {
	if cls, ok := classifyByKeywords(message); ok {
		return cls
	}

	if c.provider == nil {
		return Classification{Intent: IntentUnknown, Confidence: 0, Source: "keyword"}
	}

	cls, err := c.classifyWithLLM(ctx, message, biz)
	if err != nil {
		slog.Warn("LLM intent fallback failed", "error", err)
		return Classification{Intent: IntentUnknown, Confidence: 0, Source: "llm"}
	}
	return cls
}

// classifyByKeywords runs the fast heuristic stage.
func classifyByKeywords(message string) (Classification, bool) {
	lower := strings.ToLower(message)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return Classification{
					Intent:     rule.intent,
					Domains:    rule.domains,
					Confidence: 0.9,
					Source:     "keyword",
				}, true
			}
		}
	}
	return Classification{}, false
}

const classifyPrompt = `You classify business assistant requests.
Respond with ONLY a JSON object: {"intent": "...", "domains": ["..."], "confidence": 0.0}
Valid intents: spend_report, account_snapshot, campaign_list, budget_change, pause_entity, crm_lookup, crm_note, send_message, unknown.
Valid domains: ads, crm, messaging.`

func (c *Classifier) classifyWithLLM(ctx context.Context, message string, biz BusinessContext) (Classification, error) {
	userContent := message
	if biz.BusinessID != "" {
		userContent = fmt.Sprintf("Business: %s (accounts: %d)\nMessage: %s", biz.BusinessID, len(biz.AccountIDs), message)
	}

	resp, err := c.provider.Chat(ctx, &provider.ChatRequest{
		Messages: []provider.Message{
			{Role: "system", Content: classifyPrompt},
			{Role: "user", Content: userContent},
		},
		Model:       c.model,
		MaxTokens:   256,
		Temperature: 0.1,
	})
	if err != nil {
		return Classification{}, fmt.Errorf("classify chat: %w", err)
	}

	cls, err := parseClassification(resp.Content)
	if err != nil {
		return Classification{}, err
	}
	cls.Source = "llm"
	return cls, nil
}

// parseClassification extracts the JSON object from the model response.
// Tolerates surrounding prose and code fences.
func parseClassification(content string) (Classification, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return Classification{}, fmt.Errorf("no JSON object in response")
	}

	var cls Classification
	if err := json.Unmarshal([]byte(content[start:end+1]), &cls); err != nil {
		return Classification{}, fmt.Errorf("parse classification: %w", err)
	}
	if !validIntent(cls.Intent) {
		cls.Intent = IntentUnknown
	}
	return cls, nil
}

func validIntent(it Intent) bool {
	switch it {
	case IntentSpendReport, IntentAccountSnapshot, IntentCampaignList,
		IntentBudgetChange, IntentPauseEntity, IntentCRMLookup,
		IntentCRMNote, IntentSendMessage, IntentUnknown:
		return true
	}
	return false
}
