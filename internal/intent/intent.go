// Package intent classifies user messages into business intents.
package intent

// Intent labels the purpose of a user message.
type Intent string

// Known intents.
const (
	IntentSpendReport     Intent = "spend_report"
	IntentAccountSnapshot Intent = "account_snapshot"
	IntentCampaignList    Intent = "campaign_list"
	IntentBudgetChange    Intent = "budget_change"
	IntentPauseEntity     Intent = "pause_entity"
	IntentCRMLookup       Intent = "crm_lookup"
	IntentCRMNote         Intent = "crm_note"
	IntentSendMessage     Intent = "send_message"
	IntentUnknown         Intent = "unknown"
)

// Domain names for the line-of-business integrations.
const (
	DomainAds       = "ads"
	DomainCRM       = "crm"
	DomainMessaging = "messaging"
)

// Integrations reports which external integrations are currently connected.
type Integrations struct {
	Ads       bool `json:"ads"`
	CRM       bool `json:"crm"`
	Messaging bool `json:"messaging"`
}

// Connected returns whether the named integration is available.
func (i Integrations) Connected(domain string) bool {
	switch domain {
	case DomainAds:
		return i.Ads
	case DomainCRM:
		return i.CRM
	case DomainMessaging:
		return i.Messaging
	}
	return false
}

// BusinessContext is the light business state passed alongside a message.
type BusinessContext struct {
	BusinessID   string       `json:"business_id"`
	UserID       string       `json:"user_id,omitempty"`
	AccountIDs   []string     `json:"account_ids,omitempty"`
	MultiAccount bool         `json:"multi_account,omitempty"`
	Integrations Integrations `json:"integrations"`
}

// Classification is the result of classifying one message.
type Classification struct {
	Intent     Intent   `json:"intent"`
	Domains    []string `json:"domains"`
	Confidence float64  `json:"confidence"`
	// Source records which stage produced the label: "keyword" or "llm".
	Source string `json:"source"`
}
