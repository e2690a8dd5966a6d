package tools

import "time"

// DomainCapabilities is the capability record for one business domain.
// It replaces per-domain subclassing: write/dangerous tool sets and the
// note extractor are plain data selected by domain key.
type DomainCapabilities struct {
	Domain         string
	WriteTools     []string
	DangerousTools []string
	// ExtractNotes pulls a short human-readable note out of a tool result
	// for the conversation summary. May be nil.
	ExtractNotes func(toolName string, res *Result) string
}

// IsWriteTool reports whether the named tool has side effects in this domain.
func (c DomainCapabilities) IsWriteTool(name string) bool {
	for _, t := range c.WriteTools {
		if t == name {
			return true
		}
	}
	return c.IsDangerousTool(name)
}

// IsDangerousTool reports whether the named tool is irreversible or moves money.
func (c DomainCapabilities) IsDangerousTool(name string) bool {
	for _, t := range c.DangerousTools {
		if t == name {
			return true
		}
	}
	return false
}

// Capabilities returns the capability records for all domains, keyed by
// domain name.
func Capabilities() map[string]DomainCapabilities {
	return map[string]DomainCapabilities{
		"ads": {
			Domain:         "ads",
			WriteTools:     []string{"ads_update_budget", "ads_pause_campaign"},
			DangerousTools: []string{"ads_update_budget", "ads_pause_campaign"},
			ExtractNotes: func(toolName string, res *Result) string {
				if res == nil || !res.Success {
					return ""
				}
				if v, ok := res.Data["campaign_name"].(string); ok {
					return toolName + ": " + v
				}
				return ""
			},
		},
		"crm": {
			Domain:     "crm",
			WriteTools: []string{"crm_create_note"},
		},
		"messaging": {
			Domain:         "messaging",
			WriteTools:     []string{"messaging_send", "messaging_broadcast"},
			DangerousTools: []string{"messaging_broadcast"},
		},
	}
}

// domainMeta builds a tool's Meta with Write/Dangerous taken from the
// domain's capability record, so the classification lives in one place.
func domainMeta(domain, name string, timeout time.Duration, retryable bool) Meta {
	caps := Capabilities()[domain]
	return Meta{
		Domain:    domain,
		Timeout:   timeout,
		Retryable: retryable,
		Write:     caps.IsWriteTool(name),
		Dangerous: caps.IsDangerousTool(name),
	}
}

// ResultNote extracts a short note for the conversation record from a
// finished tool call, when the domain defines an extractor.
func ResultNote(domain, toolName string, res *Result) string {
	caps, ok := Capabilities()[domain]
	if !ok || caps.ExtractNotes == nil {
		return ""
	}
	return caps.ExtractNotes(toolName, res)
}
