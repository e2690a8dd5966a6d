// Package clarify decides whether a request still needs required inputs
// and extracts answers already present in free text.
package clarify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/adpilot-ai/adpilot/internal/intent"
	"github.com/adpilot-ai/adpilot/internal/policy"
)

// State is the persisted clarifying state of a conversation. Cleared on
// completion or explicit reset.
type State struct {
	Required        bool              `json:"required"`
	Questions       []policy.Question `json:"questions,omitempty"`
	Answers         map[string]string `json:"answers,omitempty"`
	Complete        bool              `json:"complete"`
	OriginalMessage string            `json:"original_message,omitempty"`
}

// Result is the outcome of evaluating one message against a policy.
type Result struct {
	NeedsClarifying bool
	Questions       []policy.Question
	Answers         map[string]string
	Prompt          string
}

// Evaluate checks which required questions remain unanswered after
// extracting answers from the message text. It never calls a tool or the
// LLM, so it is cheap to re-run on every turn.
func Evaluate(message string, pol policy.Policy, biz intent.BusinessContext, existing map[string]string) Result {
	answers := make(map[string]string, len(existing))
	for k, v := range existing {
		answers[k] = v
	}

	var remaining []policy.Question
	for _, q := range pol.ClarifyingQuestions {
		if !questionApplies(q, biz) {
			continue
		}
		if _, ok := answers[q.Field]; ok {
			continue
		}
		if v, ok := extractAnswer(message, q); ok {
			answers[q.Field] = v
			continue
		}
		if q.Default != "" {
			// Defaults only fill in once extraction has had a chance:
			// an explicit mention always wins over the default.
			answers[q.Field] = q.Default
			continue
		}
		remaining = append(remaining, q)
	}

	res := Result{Answers: answers}
	if len(remaining) > 0 {
		res.NeedsClarifying = true
		res.Questions = remaining
		res.Prompt = formatPrompt(remaining)
	}
	return res
}

// questionApplies filters conditional questions by business context.
func questionApplies(q policy.Question, biz intent.BusinessContext) bool {
	switch q.Condition {
	case "":
		return true
	case policy.ConditionMultiAccount:
		return biz.MultiAccount
	}
	return true
}

// extractAnswer applies the type-specific heuristic for one question.
func extractAnswer(message string, q policy.Question) (string, bool) {
	switch q.Type {
	case policy.QuestionPeriod:
		return extractPeriod(message)
	case policy.QuestionAmount:
		return extractAmount(message)
	case policy.QuestionEntity:
		return extractEntity(message)
	case policy.QuestionChoice:
		return extractChoice(message, q.Options)
	}
	return "", false
}

var (
	relativePeriodRe = regexp.MustCompile(`(?i)\b(?:last|past|previous)\s+(\d{1,3})\s+(day|week|month)s?\b`)
	isoDateRangeRe   = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\s*(?:to|through|-|until)\s*(\d{4}-\d{2}-\d{2})\b`)
	amountRe         = regexp.MustCompile(`(?i)(?:[$€£]\s*)?(\d+(?:[.,]\d{1,2})?)\s*(?:dollars|usd|eur|gbp|per day|/day|daily)?`)
	quotedEntityRe   = regexp.MustCompile(`["“']([^"”']{2,64})["”']`)
	namedEntityRe    = regexp.MustCompile(`(?i)\b(?:campaign|account|contact|lead|customer)\s+(?:named\s+|called\s+)?([A-Za-z0-9][\w-]{1,40})`)
)

// extractPeriod recognizes date-range phrases: relative spans, a few fixed
// words, and explicit ISO date ranges.
func extractPeriod(message string) (string, bool) {
	lower := strings.ToLower(message)

	if m := isoDateRangeRe.FindStringSubmatch(message); m != nil {
		return m[1] + ".." + m[2], true
	}
	if m := relativePeriodRe.FindStringSubmatch(message); m != nil {
		unit := "d"
		switch strings.ToLower(m[2]) {
		case "week":
			unit = "w"
		case "month":
			unit = "m"
		}
		return "last_" + m[1] + unit, true
	}
	switch {
	case strings.Contains(lower, "yesterday"):
		return "yesterday", true
	case strings.Contains(lower, "today"):
		return "today", true
	case strings.Contains(lower, "this week"):
		return "this_week", true
	case strings.Contains(lower, "this month"):
		return "this_month", true
	case strings.Contains(lower, "last week"):
		return "last_7d", true
	case strings.Contains(lower, "last month"):
		return "last_30d", true
	}
	return "", false
}

// extractAmount finds a numeric mention, preferring currency-marked ones.
func extractAmount(message string) (string, bool) {
	// A bare number in a budget-ish sentence is acceptable; strip
	// thousands separators conservatively (only "1,234" style).
	m := amountRe.FindStringSubmatch(message)
	if m == nil {
		return "", false
	}
	val := strings.ReplaceAll(m[1], ",", ".")
	// Reject obvious date fragments like "7" from "last 7 days".
	if relativePeriodRe.MatchString(message) && !strings.ContainsAny(message, "$€£") &&
		!strings.Contains(strings.ToLower(message), "budget") {
		return "", false
	}
	return val, true
}

// extractEntity finds a quoted or keyword-prefixed name mention.
func extractEntity(message string) (string, bool) {
	if m := quotedEntityRe.FindStringSubmatch(message); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	if m := namedEntityRe.FindStringSubmatch(message); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	return "", false
}

// extractChoice matches one of the question's options in the text.
func extractChoice(message string, options []string) (string, bool) {
	lower := strings.ToLower(message)
	for _, opt := range options {
		if strings.Contains(lower, strings.ToLower(opt)) {
			return opt, true
		}
	}
	return "", false
}

// formatPrompt renders the remaining questions as a user-facing prompt.
func formatPrompt(questions []policy.Question) string {
	if len(questions) == 1 {
		return questions[0].Prompt
	}
	var sb strings.Builder
	sb.WriteString("I need a few details first:\n")
	for i, q := range questions {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, q.Prompt))
	}
	return strings.TrimSpace(sb.String())
}
