package tools

import (
	"context"
	"fmt"
	"time"
)

// CRMClient is the collaborator interface for the CRM platform.
type CRMClient interface {
	LookupContact(ctx context.Context, query string) ([]map[string]any, error)
	CreateNote(ctx context.Context, contactID, body string) (map[string]any, error)
}

// ContactLookupTool searches CRM contacts and leads.
type ContactLookupTool struct {
	client CRMClient
}

func NewContactLookupTool(client CRMClient) *ContactLookupTool {
	return &ContactLookupTool{client: client}
}

func (t *ContactLookupTool) Name() string { return "crm_contact_lookup" }

func (t *ContactLookupTool) Description() string {
	return "Search CRM contacts and leads by name, email, or company."
}

func (t *ContactLookupTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "Search text"},
		},
		"required": []any{"query"},
	}
}

func (t *ContactLookupTool) Meta() Meta {
	return domainMeta("crm", t.Name(), 15*time.Second, true)
}

func (t *ContactLookupTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	query := GetString(params, "query", "")

	contacts, err := t.client.LookupContact(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("contact lookup: %w", err)
	}
	if len(contacts) == 0 {
		return &Result{
			Success:   false,
			Error:     fmt.Sprintf("no contacts match %q", query),
			ErrorCode: "not_found",
		}, nil
	}
	return &Result{
		Success: true,
		Message: fmt.Sprintf("%d contacts", len(contacts)),
		Data:    map[string]any{"contacts": contacts},
	}, nil
}

// CreateNoteTool adds a note to a CRM contact. Write but not dangerous:
// a note is reversible and costs nothing.
type CreateNoteTool struct {
	client CRMClient
}

func NewCreateNoteTool(client CRMClient) *CreateNoteTool {
	return &CreateNoteTool{client: client}
}

func (t *CreateNoteTool) Name() string { return "crm_create_note" }

func (t *CreateNoteTool) Description() string {
	return "Add a note to a CRM contact record."
}

func (t *CreateNoteTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"contact_id": map[string]any{"type": "string", "description": "CRM contact ID"},
			"body":       map[string]any{"type": "string", "description": "Note text"},
		},
		"required": []any{"contact_id", "body"},
	}
}

func (t *CreateNoteTool) Meta() Meta {
	return domainMeta("crm", t.Name(), 15*time.Second, false)
}

func (t *CreateNoteTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	contactID := GetString(params, "contact_id", "")
	body := GetString(params, "body", "")

	data, err := t.client.CreateNote(ctx, contactID, body)
	if err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}
	return &Result{
		Success: true,
		Message: fmt.Sprintf("Note added to %s", contactID),
		Data:    data,
	}, nil
}
