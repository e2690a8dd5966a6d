// Package policy resolves classified intents into per-request permissions.
package policy

import (
	"fmt"

	"github.com/adpilot-ai/adpilot/internal/intent"
	"github.com/adpilot-ai/adpilot/internal/tier"
)

// Dangerous-action handling for a policy.
const (
	DangerousBlock = "block"
	DangerousAllow = "allow"
)

// Question types understood by the clarifying gate's extractors.
const (
	QuestionPeriod = "period"
	QuestionAmount = "amount"
	QuestionEntity = "entity"
	QuestionChoice = "choice"
)

// Condition keys for conditional questions.
const (
	ConditionMultiAccount = "multi_account"
)

// Question is one required input the policy needs before tools may run.
type Question struct {
	Field   string   `json:"field"`
	Prompt  string   `json:"prompt"`
	Type    string   `json:"type"`
	Default string   `json:"default,omitempty"`
	Options []string `json:"options,omitempty"`
	// Condition filters the question by business context; empty means
	// always required.
	Condition string `json:"condition,omitempty"`
}

// Policy is the resolved set of permissions for handling one request.
type Policy struct {
	Intent              intent.Intent
	Domain              string
	AllowedTools        []string // nil = unrestricted
	DangerousPolicy     string
	MaxToolCalls        int
	ClarifyingQuestions []Question
	UseContextOnly      bool
	PlaybookID          string
	PreflightFailed     bool
	PreflightError      string
}

// Allows reports whether the policy permits calling the named tool.
func (p Policy) Allows(name string) bool {
	if p.AllowedTools == nil {
		return true
	}
	for _, t := range p.AllowedTools {
		if t == name {
			return true
		}
	}
	return false
}

// spec is one row of the static policy table.
type spec struct {
	domain         string
	allowedTools   []string
	dangerous      string
	maxToolCalls   int
	questions      []Question
	useContextOnly bool
	playbookID     string
	// requires names an integration that must be connected; preflight
	// fails the policy when it is not.
	requires string
}

var accountQuestion = Question{
	Field:     "account_id",
	Prompt:    "Which ad account should I use?",
	Type:      QuestionEntity,
	Condition: ConditionMultiAccount,
}

var policyTable = map[intent.Intent]spec{
	intent.IntentSpendReport: {
		domain:       intent.DomainAds,
		allowedTools: []string{"ads_spend_report", "ads_list_campaigns"},
		dangerous:    DangerousBlock,
		maxToolCalls: 4,
		questions: []Question{
			{Field: "period", Prompt: "What period should the report cover?", Type: QuestionPeriod, Default: "last_7d"},
			accountQuestion,
		},
		requires: intent.DomainAds,
	},
	intent.IntentAccountSnapshot: {
		domain:       intent.DomainAds,
		allowedTools: []string{"ads_account_snapshot", "ads_spend_report", "ads_list_campaigns"},
		dangerous:    DangerousBlock,
		maxToolCalls: 4,
		questions:    []Question{accountQuestion},
		playbookID:   "ads_health",
		requires:     intent.DomainAds,
	},
	intent.IntentCampaignList: {
		domain:       intent.DomainAds,
		allowedTools: []string{"ads_list_campaigns"},
		dangerous:    DangerousBlock,
		maxToolCalls: 2,
		questions:    []Question{accountQuestion},
		requires:     intent.DomainAds,
	},
	intent.IntentBudgetChange: {
		domain:       intent.DomainAds,
		allowedTools: []string{"ads_list_campaigns", "ads_update_budget"},
		dangerous:    DangerousBlock,
		maxToolCalls: 4,
		questions: []Question{
			{Field: "entity", Prompt: "Which campaign should I change?", Type: QuestionEntity},
			{Field: "amount", Prompt: "What should the new daily budget be?", Type: QuestionAmount},
			accountQuestion,
		},
		requires: intent.DomainAds,
	},
	intent.IntentPauseEntity: {
		domain:       intent.DomainAds,
		allowedTools: []string{"ads_list_campaigns", "ads_pause_campaign"},
		dangerous:    DangerousBlock,
		maxToolCalls: 4,
		questions: []Question{
			{Field: "entity", Prompt: "Which campaign should I pause?", Type: QuestionEntity},
			accountQuestion,
		},
		requires: intent.DomainAds,
	},
	intent.IntentCRMLookup: {
		domain:       intent.DomainCRM,
		allowedTools: []string{"crm_contact_lookup"},
		dangerous:    DangerousBlock,
		maxToolCalls: 3,
		questions: []Question{
			{Field: "entity", Prompt: "Who should I look up?", Type: QuestionEntity},
		},
		requires: intent.DomainCRM,
	},
	intent.IntentCRMNote: {
		domain:       intent.DomainCRM,
		allowedTools: []string{"crm_contact_lookup", "crm_create_note"},
		dangerous:    DangerousBlock,
		maxToolCalls: 4,
		questions: []Question{
			{Field: "entity", Prompt: "Which contact is the note for?", Type: QuestionEntity},
		},
		requires: intent.DomainCRM,
	},
	intent.IntentSendMessage: {
		domain:       intent.DomainMessaging,
		allowedTools: []string{"crm_contact_lookup", "messaging_send", "messaging_broadcast"},
		dangerous:    DangerousBlock,
		maxToolCalls: 4,
		questions: []Question{
			{Field: "entity", Prompt: "Who should receive the message?", Type: QuestionEntity},
		},
		requires: intent.DomainMessaging,
	},
}

// playbook defines the tool and question sets per tier of a named flow.
type playbook struct {
	requires string
	tiers    map[tier.Tier]spec
}

var playbookTable = map[string]playbook{
	"ads_health": {
		requires: intent.DomainAds,
		tiers: map[tier.Tier]spec{
			tier.TierSnapshot: {
				domain:       intent.DomainAds,
				allowedTools: []string{"ads_account_snapshot", "ads_spend_report"},
				dangerous:    DangerousBlock,
				maxToolCalls: 3,
			},
			tier.TierDrilldown: {
				domain:       intent.DomainAds,
				allowedTools: []string{"ads_spend_report", "ads_list_campaigns"},
				dangerous:    DangerousBlock,
				maxToolCalls: 4,
			},
			tier.TierActions: {
				domain:       intent.DomainAds,
				allowedTools: []string{"ads_list_campaigns", "ads_pause_campaign", "ads_update_budget"},
				dangerous:    DangerousBlock,
				maxToolCalls: 4,
			},
		},
	},
}

// Engine resolves intents against the static policy table plus live
// preflight checks.
type Engine struct{}

// NewEngine creates a policy engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Resolve maps a classified intent to its policy. Unknown intents fall
// back to a safe zero-budget policy with a mandatory clarifying question.
func (e *Engine) Resolve(it intent.Intent, domains []string, biz intent.BusinessContext) Policy {
	s, ok := policyTable[it]
	if !ok {
		return unknownPolicy(it)
	}

	pol := Policy{
		Intent:              it,
		Domain:              s.domain,
		AllowedTools:        append([]string{}, s.allowedTools...),
		DangerousPolicy:     s.dangerous,
		MaxToolCalls:        s.maxToolCalls,
		ClarifyingQuestions: append([]Question{}, s.questions...),
		UseContextOnly:      s.useContextOnly,
		PlaybookID:          s.playbookID,
	}
	applyPreflight(&pol, s.requires, biz.Integrations)
	return pol
}

// ResolveTier pulls the policy for one tier of a named playbook, with the
// same preflight short-circuit as Resolve.
func (e *Engine) ResolveTier(playbookID string, t tier.Tier, biz intent.BusinessContext) (Policy, error) {
	pb, ok := playbookTable[playbookID]
	if !ok {
		return Policy{}, fmt.Errorf("unknown playbook %q", playbookID)
	}
	s, ok := pb.tiers[t]
	if !ok {
		return Policy{}, fmt.Errorf("playbook %q has no tier %q", playbookID, t)
	}

	pol := Policy{
		Domain:          s.domain,
		AllowedTools:    append([]string{}, s.allowedTools...),
		DangerousPolicy: s.dangerous,
		MaxToolCalls:    s.maxToolCalls,
		PlaybookID:      playbookID,
	}
	applyPreflight(&pol, pb.requires, biz.Integrations)
	return pol, nil
}

// applyPreflight forces an empty policy with a user-facing reason when a
// required integration is unavailable, so the tool loop never wastes a
// call on an unreachable domain.
func applyPreflight(pol *Policy, requires string, integrations intent.Integrations) {
	if requires == "" || integrations.Connected(requires) {
		return
	}
	pol.AllowedTools = []string{}
	pol.ClarifyingQuestions = nil
	pol.MaxToolCalls = 0
	pol.PreflightFailed = true
	pol.PreflightError = fmt.Sprintf("The %s integration is not connected. Connect it in settings and try again.", requires)
}

func unknownPolicy(it intent.Intent) Policy {
	return Policy{
		Intent:          it,
		DangerousPolicy: DangerousBlock,
		AllowedTools:    []string{},
		MaxToolCalls:    0,
		ClarifyingQuestions: []Question{
			{
				Field:  "goal",
				Prompt: "I'm not sure what you'd like to do. Could you describe it in terms of your ads, CRM, or messaging?",
				Type:   QuestionChoice,
			},
		},
	}
}
