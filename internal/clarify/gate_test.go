package clarify

import (
	"strings"
	"testing"

	"github.com/adpilot-ai/adpilot/internal/intent"
	"github.com/adpilot-ai/adpilot/internal/policy"
)

func spendPolicy() policy.Policy {
	e := policy.NewEngine()
	return e.Resolve(intent.IntentSpendReport, []string{intent.DomainAds}, intent.BusinessContext{
		Integrations: intent.Integrations{Ads: true},
	})
}

func budgetPolicy() policy.Policy {
	e := policy.NewEngine()
	return e.Resolve(intent.IntentBudgetChange, []string{intent.DomainAds}, intent.BusinessContext{
		Integrations: intent.Integrations{Ads: true},
	})
}

func TestPeriodExtractedFromMessage(t *testing.T) {
	res := Evaluate("show ad spend for the last 7 days", spendPolicy(), intent.BusinessContext{}, nil)
	if res.NeedsClarifying {
		t.Fatalf("unexpected clarifying questions: %v", res.Questions)
	}
	if res.Answers["period"] != "last_7d" {
		t.Fatalf("period = %q, want last_7d", res.Answers["period"])
	}
}

func TestPeriodDefaultApplies(t *testing.T) {
	res := Evaluate("how much did we spend?", spendPolicy(), intent.BusinessContext{}, nil)
	if res.NeedsClarifying {
		t.Fatalf("default should satisfy the period question, got %v", res.Questions)
	}
	if res.Answers["period"] != "last_7d" {
		t.Fatalf("period default = %q, want last_7d", res.Answers["period"])
	}
}

func TestISODateRange(t *testing.T) {
	res := Evaluate("spend from 2026-08-01 to 2026-08-15 please", spendPolicy(), intent.BusinessContext{}, nil)
	if res.Answers["period"] != "2026-08-01..2026-08-15" {
		t.Fatalf("period = %q", res.Answers["period"])
	}
}

func TestMultiAccountConditionGatesQuestion(t *testing.T) {
	single := Evaluate("show spend", spendPolicy(), intent.BusinessContext{MultiAccount: false}, nil)
	if single.NeedsClarifying {
		t.Fatalf("single-account business must not be asked for an account: %v", single.Questions)
	}

	multi := Evaluate("show spend", spendPolicy(), intent.BusinessContext{MultiAccount: true}, nil)
	if !multi.NeedsClarifying {
		t.Fatal("multi-account business must be asked for an account")
	}
	if multi.Questions[0].Field != "account_id" {
		t.Fatalf("remaining question = %s, want account_id", multi.Questions[0].Field)
	}
}

func TestBudgetChangeNeedsEntityAndAmount(t *testing.T) {
	res := Evaluate("change a budget", budgetPolicy(), intent.BusinessContext{}, nil)
	if !res.NeedsClarifying || len(res.Questions) != 2 {
		t.Fatalf("want 2 remaining questions, got %v", res.Questions)
	}
	if !strings.Contains(res.Prompt, "1.") || !strings.Contains(res.Prompt, "2.") {
		t.Fatalf("multi-question prompt should be numbered: %q", res.Prompt)
	}
}

func TestBudgetChangeFullyAnswered(t *testing.T) {
	res := Evaluate(`set the budget for campaign "Summer Sale" to $80 per day`, budgetPolicy(), intent.BusinessContext{}, nil)
	if res.NeedsClarifying {
		t.Fatalf("unexpected questions: %v", res.Questions)
	}
	if res.Answers["entity"] != "Summer Sale" {
		t.Fatalf("entity = %q", res.Answers["entity"])
	}
	if res.Answers["amount"] != "80" {
		t.Fatalf("amount = %q", res.Answers["amount"])
	}
}

func TestExistingAnswersNeverReAsked(t *testing.T) {
	existing := map[string]string{"entity": "Summer Sale"}
	res := Evaluate("make it 45 dollars", budgetPolicy(), intent.BusinessContext{}, existing)
	if res.NeedsClarifying {
		t.Fatalf("unexpected questions: %v", res.Questions)
	}
	if res.Answers["entity"] != "Summer Sale" {
		t.Fatal("existing answer lost")
	}
	if res.Answers["amount"] != "45" {
		t.Fatalf("amount = %q", res.Answers["amount"])
	}
}

func TestBareNumberInPeriodPhraseNotAnAmount(t *testing.T) {
	// "30" here is part of "last 30 days", not a budget amount.
	res := Evaluate("set it based on performance over the last 30 days", budgetPolicy(), intent.BusinessContext{}, map[string]string{"entity": "Summer Sale"})
	if !res.NeedsClarifying {
		t.Fatal("amount should still be unanswered")
	}
	if res.Questions[0].Field != "amount" {
		t.Fatalf("remaining = %s, want amount", res.Questions[0].Field)
	}
}

func TestExplicitMentionBeatsDefault(t *testing.T) {
	res := Evaluate("spend for the past 2 weeks", spendPolicy(), intent.BusinessContext{}, nil)
	if res.Answers["period"] != "last_2w" {
		t.Fatalf("period = %q, want last_2w", res.Answers["period"])
	}
}

func TestEntityFromKeywordPrefix(t *testing.T) {
	res := Evaluate("pause campaign Summer-Sale", policy.NewEngine().Resolve(intent.IntentPauseEntity, nil, intent.BusinessContext{
		Integrations: intent.Integrations{Ads: true},
	}), intent.BusinessContext{}, nil)
	if res.Answers["entity"] != "Summer-Sale" {
		t.Fatalf("entity = %q", res.Answers["entity"])
	}
}

func TestSinglePromptIsQuestionText(t *testing.T) {
	res := Evaluate("pause something", policy.NewEngine().Resolve(intent.IntentPauseEntity, nil, intent.BusinessContext{
		Integrations: intent.Integrations{Ads: true},
	}), intent.BusinessContext{}, nil)
	if !res.NeedsClarifying {
		t.Fatal("want clarifying")
	}
	if res.Prompt != res.Questions[0].Prompt {
		t.Fatalf("single-question prompt should be verbatim, got %q", res.Prompt)
	}
}
